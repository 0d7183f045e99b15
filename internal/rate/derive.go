package rate

import "strings"

// KeyFor 由调度端点得到限流分组键：
// 空或 "local" 为本机；否则取 ssh 目标主机名（去掉 user@ 与 :port，小写）。
func KeyFor(remote string) LimitKey {
	r := strings.TrimSpace(remote)
	if r == "" || r == "local" {
		return "local"
	}
	if i := strings.LastIndexByte(r, '@'); i >= 0 {
		r = r[i+1:]
	}
	if i := strings.IndexByte(r, ':'); i >= 0 {
		r = r[:i]
	}
	return LimitKey("ssh:" + strings.ToLower(r))
}
