package joinserver

import "github.com/pkg/errors"

// Errors returned by the join flow. The network server drops the
// join-request on any of them without telling them apart; none of them
// unwinds control flow.
var (
	ErrUnknownDevEUI  = errors.New("joinserver: deveui does not exist")
	ErrInvalidMIC     = errors.New("joinserver: invalid mic")
	ErrDevNonceReplay = errors.New("joinserver: devnonce already used")
	ErrRejoinReplay   = errors.New("joinserver: rejoin-count already used")
)
