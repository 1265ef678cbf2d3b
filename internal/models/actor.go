package models

// 员工角色（来自外部认证服务，这里只做合法性校验）
const (
	RoleHousekeeper = "housekeeper" // 客房清洁
	RoleMaintenance = "maintenance" // 维修工程
	RoleReception   = "reception"   // 前台接待
	RoleFront       = "front"       // 礼宾/大堂
	RoleManager     = "manager"     // 值班经理
	RoleAdmin       = "admin"
	RoleSuperAdmin  = "superadmin"
)

// Actor 操作人（谁触发了状态变更）
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// KnownRoles 全部已知角色
func KnownRoles() []string {
	return []string{
		RoleHousekeeper, RoleMaintenance, RoleReception,
		RoleFront, RoleManager, RoleAdmin, RoleSuperAdmin,
	}
}

// IsKnownRole 校验角色合法性
func IsKnownRole(role string) bool {
	for _, r := range KnownRoles() {
		if r == role {
			return true
		}
	}
	return false
}
