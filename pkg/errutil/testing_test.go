// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/lockbox/pkg/errutil"
)

var errSentinel = errors.New("sentinel")

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("username", "alice").Errorf("test error")
	errutil.AssertErrorContext(t, err, "username", "alice")
}

func TestAssertCodedError_WrapsSentinel(t *testing.T) {
	err := oops.Code("MY_CODE").With("k", "v").Wrap(errSentinel)
	errutil.AssertCodedError(t, err, "MY_CODE", errSentinel)
}
