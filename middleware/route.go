package middleware

import (
	midsec "PPLive/middleware/security"

	"github.com/gin-gonic/gin"
)

type RouteOpt struct {
	IsAuth bool
}

// Routes registers handlers, putting the auth middleware in front when asked.
type Routes struct {
	R    gin.IRoutes
	Auth *midsec.Options
}

func (rs Routes) chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth {
		return []gin.HandlerFunc{midsec.Middleware(rs.Auth), handler}
	}
	return []gin.HandlerFunc{handler}
}

func (rs Routes) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rs.R.POST(path, rs.chain(handler, opt)...)
}

func (rs Routes) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rs.R.GET(path, rs.chain(handler, opt)...)
}
