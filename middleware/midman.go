package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// Chain is a mutable list of middlewares mounted on the engine as one handler,
// so entries can be added after the routes are built.
type Chain struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewChain() *Chain {
	return &Chain{}
}

func (m *Chain) Add(h ...gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h...)
}

func (m *Chain) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = nil
}

func (m *Chain) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...)
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
