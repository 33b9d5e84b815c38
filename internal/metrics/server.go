package metrics

import (
	"expvar"
	"net/http/pprof"

	"github.com/gin-gonic/gin"
)

// Register 挂载调试接口：
// - expvar: /debug/vars
// - pprof:  /debug/pprof
// 由调用方控制是否启用（建议仅监听 localhost 或内网）。
func Register(r gin.IRoutes) {
	r.GET("/debug/vars", gin.WrapH(expvar.Handler()))

	// pprof：显式注册，避免依赖 DefaultServeMux 的全局副作用
	r.GET("/debug/pprof/", gin.WrapF(pprof.Index))
	r.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
	r.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
	r.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
	r.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	for _, name := range []string{"heap", "goroutine", "allocs", "block", "mutex", "threadcreate"} {
		r.GET("/debug/pprof/"+name, gin.WrapH(pprof.Handler(name)))
	}
}
