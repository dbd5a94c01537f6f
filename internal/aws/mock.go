package aws

import "context"

// MockClient is a test double for the Client interface.
type MockClient struct {
	Identity    *CallerIdentity
	IdentityErr error
	Allowed     map[string]bool
	AccessErr   error

	// Track calls
	CheckedActions []string
}

// NewMockClient creates a new MockClient that is allowed every lifecycle action.
func NewMockClient() *MockClient {
	allowed := make(map[string]bool, len(LifecycleActions))
	for _, a := range LifecycleActions {
		allowed[a] = true
	}
	return &MockClient{
		Identity: &CallerIdentity{
			Account: "123456789012",
			ARN:     "arn:aws:iam::123456789012:user/test",
			UserID:  "AIDA12345",
		},
		Allowed: allowed,
	}
}

func (m *MockClient) VerifyCredentials(_ context.Context) (*CallerIdentity, error) {
	return m.Identity, m.IdentityErr
}

func (m *MockClient) CheckAccess(_ context.Context, actions []string) (map[string]bool, error) {
	m.CheckedActions = append(m.CheckedActions, actions...)
	if m.AccessErr != nil {
		return nil, m.AccessErr
	}
	out := make(map[string]bool, len(actions))
	for _, a := range actions {
		out[a] = m.Allowed[a]
	}
	return out, nil
}
