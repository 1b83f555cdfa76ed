package engine

import (
	"errors"
	"fmt"

	"dollforge/internal/model"
)

// ErrValidation marks a submission rejected before persistence. Callers can
// match it with errors.Is to distinguish bad requests from engine failures.
var ErrValidation = errors.New("invalid submission")

// SubmitRequest is a task submission as received from the caller. Input
// image order is arbitrary; validation fixes the positional order.
type SubmitRequest struct {
	Stage       model.Stage      `json:"stage"`
	Model       string           `json:"model"`
	Size        string           `json:"size"`
	AspectRatio string           `json:"aspectRatio"`
	InputImages []model.ImageRef `json:"inputImages"`
}

// validateRequest checks the request against the per-stage role table and
// required generation parameters, returning the input images reordered to
// the stage's normalized role order.
func validateRequest(req SubmitRequest, settings model.Settings) ([]model.ImageRef, error) {
	if settings.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is not configured", ErrValidation)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrValidation)
	}
	if req.Size == "" {
		return nil, fmt.Errorf("%w: size is required", ErrValidation)
	}
	if req.AspectRatio == "" {
		return nil, fmt.Errorf("%w: aspect ratio is required", ErrValidation)
	}
	return normalizeInputs(req.Stage, req.InputImages)
}

// normalizeInputs enforces the per-stage composition rule (exactly one
// image per required role, nothing else) and returns the images in the
// stage's declared role order. Downstream payload construction depends on
// this positional meaning.
func normalizeInputs(stage model.Stage, images []model.ImageRef) ([]model.ImageRef, error) {
	roles := model.StageRoles(stage)
	if roles == nil {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrValidation, stage)
	}

	byRole := make(map[model.Role][]model.ImageRef)
	for _, img := range images {
		role := model.Role(img.Category)
		byRole[role] = append(byRole[role], img)
	}

	ordered := make([]model.ImageRef, 0, len(roles))
	for _, role := range roles {
		got := byRole[role]
		if len(got) != 1 {
			return nil, fmt.Errorf("%w: stage %s requires exactly one %q image, got %d", ErrValidation, stage, role, len(got))
		}
		ordered = append(ordered, got[0])
		delete(byRole, role)
	}

	for role, extra := range byRole {
		return nil, fmt.Errorf("%w: stage %s does not accept %q images (got %d)", ErrValidation, stage, role, len(extra))
	}

	return ordered, nil
}
