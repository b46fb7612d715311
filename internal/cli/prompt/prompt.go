// Package prompt wraps promptui for the interactive `sruth init` flow.
package prompt

import (
	"errors"
	"strconv"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) {
		return ErrAborted
	}
	return err
}

// Input prompts for text with a default.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{Label: label, Default: defaultValue}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputInt prompts for an integer with a default.
func InputInt(label string, defaultValue int) (int, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: strconv.Itoa(defaultValue),
		Validate: func(s string) error {
			_, err := strconv.Atoi(s)
			return err
		},
	}
	result, err := p.Run()
	if err != nil {
		return 0, wrapError(err)
	}
	return strconv.Atoi(result)
}

// Select prompts for one of items.
func Select(label string, items []string) (string, error) {
	s := promptui.Select{Label: label, Items: items}
	_, result, err := s.Run()
	return result, wrapError(err)
}

// Confirm prompts for a yes/no answer, defaulting to no.
func Confirm(label string) (bool, error) {
	p := promptui.Prompt{Label: label, IsConfirm: true}
	_, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, wrapError(err)
	}
	return true, nil
}
