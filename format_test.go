package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kibibytes", 1536, "1.5 KiB"},
		{"mebibytes", 5242880, "5.0 MiB"},
		{"upload limit", 10 * 1024 * 1024, "10 MiB"},
		{"unknown", -1, "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.Local)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.Local)

	t.Run("same year", func(t *testing.T) {
		result := formatTime(sameYear)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(diffYear)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "-", formatTime(time.Time{}))
	})
}

func TestFormatRelative(t *testing.T) {
	assert.Equal(t, "unknown", formatRelative(time.Time{}))
	assert.Contains(t, formatRelative(time.Now().Add(-3*time.Hour)), "ago")
	assert.Contains(t, formatRelative(time.Now().Add(3*time.Hour)), "from now")
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"ID", "NAME", "SIZE"}
	rows := [][]string{
		{"1", "cv.pdf", "1.2 MiB"},
		{"12", "resume-final.docx", "88 KiB"},
	}

	printTable(&buf, headers, rows)

	assert.Equal(t,
		"ID  NAME               SIZE\n"+
			"1   cv.pdf             1.2 MiB\n"+
			"12  resume-final.docx  88 KiB\n",
		buf.String())
}

func TestStatusf_Quiet(t *testing.T) {
	var buf bytes.Buffer

	statusf(&buf, true, "hidden %d\n", 1)
	assert.Empty(t, buf.String())

	statusf(&buf, false, "shown %d\n", 2)
	assert.Equal(t, "shown 2\n", buf.String())
}

func TestYesNo(t *testing.T) {
	assert.Equal(t, "yes", yesNo(true))
	assert.Equal(t, "no", yesNo(false))
}
