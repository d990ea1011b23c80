package service

import (
	"fmt"
	"strings"

	"github.com/ignatij/dealflow/pkg/models"
	"gopkg.in/go-playground/colors.v1"
)

const maxNameLength = 100

func validateName(kind, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("%s name cannot be empty", kind)
	}
	if len(name) > maxNameLength {
		return "", invalid("%s name too long (max %d characters)", kind, maxNameLength)
	}
	return name, nil
}

func validateProbability(p int) error {
	if p < models.MinProbability || p > models.MaxProbability {
		return invalid("probability %d out of range [%d, %d]", p, models.MinProbability, models.MaxProbability)
	}
	return nil
}

// NormalizeColor accepts hex, rgb() or rgba() colours and returns lower-case
// #rrggbb. An empty string yields the default stage colour.
func NormalizeColor(color string) (string, error) {
	color = strings.ToLower(strings.TrimSpace(color))
	if color == "" {
		return models.DefaultStageColor, nil
	}
	c, err := colors.Parse(color)
	if err != nil {
		return "", invalid("color %q: %v", color, err)
	}
	rgb := c.ToRGB()
	return fmt.Sprintf("#%02x%02x%02x", rgb.R, rgb.G, rgb.B), nil
}
