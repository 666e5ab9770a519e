package model

import "regexp"

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidTenantID 判断租户 ID 是否合法。租户 ID 会出现在本地目录名和对象存储键中。
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}
