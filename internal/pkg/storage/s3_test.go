package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
)

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "NotFound"}), true},
		{&smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{errors.New("dial tcp: refused"), false},
	}
	for _, c := range cases {
		if got := isNotFound(c.err); got != c.want {
			t.Fatalf("isNotFound(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
