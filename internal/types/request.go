package types

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// GenerationRequest represents a request to generate a profile for a position.
// Temperature is optional; nil means the backend default.
type GenerationRequest struct {
	PositionID   uuid.UUID `json:"position_id" validate:"required"`
	EmployeeName string    `json:"employee_name,omitempty" validate:"omitempty,max=200"`
	Temperature  *float64  `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// Validate validates the GenerationRequest using the validator.
func (r *GenerationRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
