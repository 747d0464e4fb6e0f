package chat

import (
	"PPLive/logger"
	"PPLive/module/live/model"

	"go.uber.org/zap"
)

// ParseFrame decodes one inbound text frame.
func ParseFrame(raw []byte) (*model.Envelope, error) {
	return model.UnmarshalEnvelope(raw)
}

// SendEnvelope queues env on c. It reports false if the queue is full.
func SendEnvelope(c *Client, env *model.Envelope) bool {
	b, err := env.Marshal()
	if err != nil {
		logger.Error("encode envelope", zap.String("type", string(env.Type)), zap.Error(err))
		return false
	}
	if !c.Enqueue(b) {
		logger.Warn("send queue full, envelope dropped", zap.String("conn", c.ID()), zap.String("type", string(env.Type)))
		return false
	}
	return true
}

// SendError replies to a failed client action, echoing its temp id.
func SendError(c *Client, req *model.Envelope, err error) bool {
	var sessionID, tempID string
	if req != nil {
		sessionID, tempID = req.SessionID, req.TempID
	}
	return SendEnvelope(c, model.ErrorEnvelope(c.UserID(), sessionID, tempID, err))
}

func sample(data []byte) []byte {
	if len(data) > 256 {
		return data[:256]
	}
	return data
}
