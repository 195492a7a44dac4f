package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：业务可恢复/告警类错误（例如配额用尽、数据被降级修复，流程可继续）
// - 5xxx：系统错误（需要中断流程）
const (
	OK              = 0
	ResourceMissing = 4004
	RateLimited     = 4029
	DataRepaired    = 4100
	NetworkFallback = 4500
	SystemError     = 5000
	CanvasFailure   = 5100
)
