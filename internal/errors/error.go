package errors

import "errors"

var (
	ErrGameNotFound      = errors.New("game not found")
	ErrInvalidCoordinate = errors.New("invalid board coordinate")
	ErrInvalidColor      = errors.New("invalid stone color")
	ErrOutOfBounds       = errors.New("move is outside the board")
	ErrOccupied          = errors.New("intersection is already occupied")
	ErrSuicide           = errors.New("move has no liberties")
	ErrEngineNotRunning  = errors.New("engine process is not running")
	ErrEngineExited      = errors.New("engine process exited")
	ErrEngineStartup     = errors.New("engine did not become ready")
	ErrMalformedResponse = errors.New("malformed engine response")
	ErrQueueClosed       = errors.New("analysis queue is closed")
	ErrMoveGap           = errors.New("incremental update skips moves")
	ErrInvalidGame       = errors.New("invalid game identity")
	ErrInvalidSGF        = errors.New("malformed sgf record")
	ErrStaleResult       = errors.New("result belongs to a previous game instance")
	ErrInternal          = errors.New("internal error")
)
