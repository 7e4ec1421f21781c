package mq

// Routing keys
const (
	RoutingAlarmSchedule       = "alarm.schedule"
	RoutingAlarmCancel         = "alarm.cancel"
	RoutingAlarmDismiss        = "alarm.dismiss"
	RoutingAlarmDeleteRequest  = "alarm.delete_requested"
	RoutingAlarmScheduleFailed = "alarm.schedule_failed"

	RoutingSessionTokenAcquired = "session.token_acquired"
	RoutingSessionCleared       = "session.cleared"

	RoutingDeviceBootCompleted = "device.boot_completed"
	RoutingDeviceScreenOn      = "device.screen_on"
	RoutingAppUILaunched       = "app.ui_launched"
	RoutingAppTaskRemoved      = "app.task_removed"

	RoutingUILaunch = "ui.launch"
)

// AlarmSchedulePayload 任务获得/修改截止时间
type AlarmSchedulePayload struct {
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	TriggerAtMs int64  `json:"trigger_at_ms"`
	Kind        string `json:"kind"` // TASK / SCHEDULE
}

// AlarmCancelPayload 任务完成、删除或清除截止时间
type AlarmCancelPayload struct {
	TaskID string `json:"task_id"`
}

// AlarmDeleteRequestedPayload 请求远程删除任务
type AlarmDeleteRequestedPayload struct {
	TaskID string `json:"task_id"`
}

// AlarmScheduleFailedPayload 注册失败反馈给 UI 层（例如需要引导用户授权）
type AlarmScheduleFailedPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"` // permission_denied / invalid_request / schedule_failed
	Error  string `json:"error"`
}

// SessionTokenPayload 登录/校验成功后的 token
type SessionTokenPayload struct {
	Token string `json:"token"`
}

// UILaunchPayload 请求把主界面拉到前台
type UILaunchPayload struct {
	FromScreenOn bool `json:"from_screen_on"`
}
