package limits

import (
	"errors"
	"strings"
	"testing"
)

// TestValidateMessageSize tests the generic validation function
func TestValidateMessageSize(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
		maxSize int
		wantErr error
	}{
		{"empty", nil, 10, ErrMessageEmpty},
		{"at limit", make([]byte, 10), 10, nil},
		{"over limit", make([]byte, 11), 10, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageSize(tt.message, tt.maxSize)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMessageSize() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFrameData(t *testing.T) {
	if err := ValidateFrameData(make([]byte, MaxAPIFrameData)); err != nil {
		t.Errorf("max frame rejected: %v", err)
	}
	err := ValidateFrameData(make([]byte, MaxAPIFrameData+1))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
	if !strings.Contains(err.Error(), "65536") {
		t.Errorf("error should carry the actual size: %v", err)
	}
}

func TestValidateFragmentCount(t *testing.T) {
	tests := []struct {
		count, max int
		wantErr    bool
	}{
		{1, MaxNarrowFragments, false},
		{16, MaxNarrowFragments, false},
		{17, MaxNarrowFragments, true},
		{65536, MaxWideFragments, false},
		{65537, MaxWideFragments, true},
	}
	for _, tt := range tests {
		err := ValidateFragmentCount(tt.count, tt.max)
		if tt.wantErr != errors.Is(err, ErrTooManyFragments) {
			t.Errorf("ValidateFragmentCount(%d, %d) = %v", tt.count, tt.max, err)
		}
	}
}

func TestValidateRemotePath(t *testing.T) {
	if err := ValidateRemotePath(""); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("empty path: got %v", err)
	}
	if err := ValidateRemotePath("logs/2024/a.txt"); err != nil {
		t.Errorf("valid path rejected: %v", err)
	}
	if err := ValidateRemotePath(strings.Repeat("a", MaxRemotePath+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("long path: got %v", err)
	}
}

func TestValidateProcessingBuffer(t *testing.T) {
	if err := ValidateProcessingBuffer(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("nil buffer: got %v", err)
	}
	if err := ValidateProcessingBuffer(make([]byte, MaxProcessingBuffer+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized buffer: got %v", err)
	}
}
