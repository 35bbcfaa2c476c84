package signal

import (
	"encoding/json"

	"github.com/dkeye/duocast/internal/app/orch"
	"github.com/dkeye/duocast/internal/core"
	"github.com/dkeye/duocast/internal/domain"
	"github.com/rs/zerolog/log"
)

type whoAmIResponse struct {
	ID    domain.ConnID `json:"id"`
	Role  domain.Role   `json:"role,omitempty"`
	State string        `json:"state"`
}

type producersResponse struct {
	Producers []domain.ProducerInfo `json:"producers"`
}

// joinRole accepts the role as a bare string or as {"role": ...}.
func joinRole(data json.RawMessage) (domain.Role, error) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var p struct {
			Role string `json:"role"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return "", domain.ErrBadRequest
		}
		raw = p.Role
	}
	return domain.ParseRole(raw)
}

func (ctl *SignalWSController) handleJoin(sess *orch.Session, c *WsSignalConn, env core.Envelope) {
	role, err := joinRole(env.Data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Msg("join rejected")
		ctl.reply(c, env.ID, resultOf(err))
		return
	}
	// the response goes out ahead of the room pushes the join triggers
	err = sess.JoinAck(role, func(err error) { ctl.reply(c, env.ID, resultOf(err)) })
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Msg("join rejected")
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(sess.ID())).Str("role", string(role)).Msg("join")
}

// handleLeave is fire-and-forget: no response is sent.
func (ctl *SignalWSController) handleLeave(sess *orch.Session) {
	log.Info().Str("module", "signal").Str("conn", string(sess.ID())).Msg("leave")
	sess.Leave()
}

func (ctl *SignalWSController) handleWhoAmI(sess *orch.Session, c *WsSignalConn, env core.Envelope) {
	ctl.reply(c, env.ID, whoAmIResponse{
		ID:    sess.ID(),
		Role:  sess.Role(),
		State: sess.State().String(),
	})
}
