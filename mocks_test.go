package broker_test

import (
	"context"

	"github.com/goliatone/go-authbroker"
	"github.com/stretchr/testify/mock"
)

// MockChannel implements broker.Channel
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Request(ctx context.Context, command string, data map[string]any) (map[string]any, error) {
	args := m.Called(ctx, command, data)
	var response map[string]any
	if v := args.Get(0); v != nil {
		response = v.(map[string]any)
	}
	return response, args.Error(1)
}

func (m *MockChannel) Send(ctx context.Context, command string, data map[string]any) error {
	args := m.Called(ctx, command, data)
	return args.Error(0)
}

func (m *MockChannel) IsStatusSupported() bool {
	args := m.Called()
	return args.Bool(0)
}

// MockStore implements broker.VerificationStore
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Load(ctx context.Context, namespace, uid string) (map[string]any, error) {
	args := m.Called(ctx, namespace, uid)
	var info map[string]any
	if v := args.Get(0); v != nil {
		info = v.(map[string]any)
	}
	return info, args.Error(1)
}

func (m *MockStore) Save(ctx context.Context, namespace, uid string, info map[string]any) error {
	args := m.Called(ctx, namespace, uid, info)
	return args.Error(0)
}

func (m *MockStore) Remove(ctx context.Context, namespace, uid string) error {
	args := m.Called(ctx, namespace, uid)
	return args.Error(0)
}

// panickyChannel throws synchronously from every call, the way a misbehaving
// host bridge would.
type panickyChannel struct{}

func (panickyChannel) Request(ctx context.Context, command string, data map[string]any) (map[string]any, error) {
	panic("channel exploded")
}

func (panickyChannel) Send(ctx context.Context, command string, data map[string]any) error {
	panic("channel exploded")
}

func (panickyChannel) IsStatusSupported() bool { return true }

func pairingRelier() *broker.Relier {
	return &broker.Relier{
		Service:    "sync",
		ClientID:   "dcdb5ae7add825d2",
		ChannelID:  "3f1a8b6e90c4",
		ChannelKey: "JDbzmbbcj6nGTYIs1fqMkDjwxlLl1uqPD0Ck7restgs",
		Context:    "fx_desktop_v3",
		Scope:      "profile https://identity.example.com/apps/oldsync",
	}
}

func webRelier() *broker.Relier {
	return &broker.Relier{
		Service:  "sync",
		ClientID: "dcdb5ae7add825d2",
		Context:  "web",
	}
}
