package layout

import "errors"

// Validation errors. They signal a caller contract violation and are never
// retried; callers test for them with errors.Is.
var (
	ErrRankMismatch                  = errors.New("rank mismatch")
	ErrInvalidLayoutName             = errors.New("invalid layout name")
	ErrIndexOutOfRange               = errors.New("index out of range")
	ErrShapeMismatch                 = errors.New("shape mismatch")
	ErrUnsupportedDatatypeConversion = errors.New("unsupported datatype conversion")
	ErrUnresolvedLayout              = errors.New("layout is unconstrained")
	ErrInvalidStrides                = errors.New("invalid strides")
	ErrInvalidShape                  = errors.New("invalid shape")
)
