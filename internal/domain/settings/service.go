package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Service provides typed access to global properties.
type Service struct {
	repo Repository
}

// NewService creates a new settings service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the raw property value, or "" when the property is unset.
func (s *Service) Get(ctx context.Context, property string) (string, error) {
	gp, err := s.repo.Get(ctx, property)
	if err != nil {
		return "", err
	}
	if gp == nil {
		return "", nil
	}
	return gp.Value, nil
}

// GetBool parses the property as a boolean, returning def when the
// property is unset or blank.
func (s *Service) GetBool(ctx context.Context, property string, def bool) (bool, error) {
	value, err := s.Get(ctx, property)
	if err != nil {
		return def, err
	}
	if strings.TrimSpace(value) == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return def, fmt.Errorf("global property %s: %w", property, err)
	}
	return parsed, nil
}

// GetList splits a comma-separated property value into trimmed entries,
// dropping blanks. An unset property yields an empty list.
func (s *Service) GetList(ctx context.Context, property string) ([]string, error) {
	value, err := s.Get(ctx, property)
	if err != nil {
		return nil, err
	}

	var items []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items, nil
}

// Set stores a property value, creating the property if needed.
func (s *Service) Set(ctx context.Context, property, value string) error {
	if property == "" {
		return fmt.Errorf("property name is required")
	}
	return s.repo.Set(ctx, &GlobalProperty{Property: property, Value: value})
}

// SetList stores a list-valued property as a comma-separated string.
func (s *Service) SetList(ctx context.Context, property string, values []string) error {
	return s.Set(ctx, property, strings.Join(values, ","))
}

// Delete removes a property.
func (s *Service) Delete(ctx context.Context, property string) error {
	return s.repo.Delete(ctx, property)
}
