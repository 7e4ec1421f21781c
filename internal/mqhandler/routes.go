package mqhandler

import (
	mqcontract "alarmd/contracts/mq"
	"alarmd/pkg/mq"
)

// HandlerSetter 按 routing key 注册处理函数，*mq.Consumer 实现了它
type HandlerSetter interface {
	SetHandler(routingKey string, h mq.MessageHandler)
}

// Handlers 服务消费的全部 MQ 事件
type Handlers struct {
	Schedule *AlarmScheduleHandler
	Cancel   *AlarmCancelHandler
	Delete   *DeleteRequestedHandler
	Dismiss  *DismissHandler
	Session  *SessionHandler
	Device   *DeviceSignalHandler
}

// RoutingKeys 队列需要绑定的 routing key
func RoutingKeys() []string {
	return []string{
		mqcontract.RoutingAlarmSchedule,
		mqcontract.RoutingAlarmCancel,
		mqcontract.RoutingAlarmDeleteRequest,
		mqcontract.RoutingAlarmDismiss,
		mqcontract.RoutingSessionTokenAcquired,
		mqcontract.RoutingSessionCleared,
		mqcontract.RoutingDeviceBootCompleted,
		mqcontract.RoutingDeviceScreenOn,
		mqcontract.RoutingAppUILaunched,
		mqcontract.RoutingAppTaskRemoved,
	}
}

// Bind 把处理函数挂到消费者上
func Bind(c HandlerSetter, h Handlers) {
	c.SetHandler(mqcontract.RoutingAlarmSchedule, h.Schedule.Handle)
	c.SetHandler(mqcontract.RoutingAlarmCancel, h.Cancel.Handle)
	c.SetHandler(mqcontract.RoutingAlarmDeleteRequest, h.Delete.Handle)
	c.SetHandler(mqcontract.RoutingAlarmDismiss, h.Dismiss.Handle)
	c.SetHandler(mqcontract.RoutingSessionTokenAcquired, h.Session.HandleTokenAcquired)
	c.SetHandler(mqcontract.RoutingSessionCleared, h.Session.HandleCleared)
	for _, key := range []string{
		mqcontract.RoutingDeviceBootCompleted,
		mqcontract.RoutingDeviceScreenOn,
		mqcontract.RoutingAppUILaunched,
		mqcontract.RoutingAppTaskRemoved,
	} {
		c.SetHandler(key, h.Device.Handler(key))
	}
}
