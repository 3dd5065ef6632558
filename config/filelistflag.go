package config

import (
	"errors"
	"slices"
	"strings"
)

var errEmptyFileName = errors.New("empty file name")

// fileListFlag collects the API definition files, from a repeated flag,
// e.g. -apis-file=a.yaml -apis-file=b.yaml, or from the config file, as
// a single name or a list. A file given twice is loaded once.
type fileListFlag []string

func (f *fileListFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *fileListFlag) Set(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errEmptyFileName
	}

	if !slices.Contains(*f, value) {
		*f = append(*f, value)
	}

	return nil
}

func (f *fileListFlag) UnmarshalYAML(unmarshal func(any) error) error {
	var values []string
	if err := unmarshal(&values); err != nil {
		var single string
		if unmarshal(&single) != nil {
			return err
		}

		values = []string{single}
	}

	var l fileListFlag
	for _, v := range values {
		if err := l.Set(v); err != nil {
			return err
		}
	}

	*f = l
	return nil
}
