package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
		{5242880, "5.0 MiB"},
		{1073741824, "1.0 GiB"},
	}

	for _, test := range tests {
		result := FormatBytes(test.input)
		assert.Equal(t, test.expected, result, "FormatBytes(%d)", test.input)
	}
}
