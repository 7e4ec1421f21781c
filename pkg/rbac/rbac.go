package rbac

// 权限常量
const (
	// 闹钟调度与取消
	PermissionWriteAlarm = "alarm:write"
	PermissionReadAlarm  = "alarm:read"

	// 前台展示控制（关闭、完成）
	PermissionControlPresentation = "presentation:control"
	// 会话 token 写入与清除
	PermissionWriteSession = "session:write"

	PermissionReadHistory = "history:read"
)

// 角色常量
const (
	// 主界面外壳，token 未带角色时的默认值
	RoleUI       = "ui"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUI: {
		PermissionWriteAlarm,
		PermissionReadAlarm,
		PermissionControlPresentation,
		PermissionWriteSession,
	},
	RoleOperator: {
		PermissionReadAlarm,
		PermissionReadHistory,
	},
	RoleAdmin: {
		PermissionWriteAlarm,
		PermissionReadAlarm,
		PermissionControlPresentation,
		PermissionWriteSession,
		PermissionReadHistory,
	},
}

// NormalizeRole 空角色按 ui 处理
func NormalizeRole(role string) string {
	if role == "" {
		return RoleUI
	}
	return role
}

// HasPermission 检查角色是否有指定权限，未知角色没有任何权限
func HasPermission(role string, permission string) bool {
	permissions, ok := rolePermissions[NormalizeRole(role)]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 与 HasPermission 相同，但返回错误便于处理
func CheckPermission(role string, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       NormalizeRole(role),
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
