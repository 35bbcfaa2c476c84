package signal

import (
	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/rs/zerolog/log"
)

// result is the common response shape; error and code are set on failure.
type result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func failure(err error) result {
	return result{Error: err.Error(), Code: domain.Code(err)}
}

func resultOf(err error) result {
	if err != nil {
		return failure(err)
	}
	return result{Success: true}
}

func (ctl *SignalWSController) handlePing(c *WsSignalConn, env core.Envelope) {
	frame, err := core.EncodeEnvelope(env.ID, typePong, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("pong marshal")
		return
	}
	_ = c.TrySend(frame)
}
