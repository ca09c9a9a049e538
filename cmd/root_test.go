package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/dfw-sh/dfwd/internal/mocks"
)

func TestApplyBackend_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := mocks.NewMockBackend(ctrl)
	m.EXPECT().Apply(gomock.Any(), false).Return(nil)

	if err := applyBackend(context.Background(), m, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplyBackend_WrapsErrorWithBackendName(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := mocks.NewMockBackend(ctrl)
	m.EXPECT().Apply(gomock.Any(), true).Return(errors.New("boom"))
	m.EXPECT().Name().Return("iptables")

	err := applyBackend(context.Background(), m, true)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "cmd: apply iptables ruleset: boom" {
		t.Errorf("got %q", got)
	}
}
