/*
Package gateway - PharmAI 网关

网关本身不做推理和编排，只负责转发：
1. API Gateway - 对外的 HTTP/JSON、WebSocket 和 gRPC 健康检查
2. Agent Gateway - 调用外部 Agent 服务（run / 会话历史 / 健康检查）
3. Inference - 转发预测请求到托管的推理端点

MongoDB 仅在启动时建立连接并用于就绪检查。
*/
package gateway
