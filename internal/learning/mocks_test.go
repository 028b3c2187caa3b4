package learning

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/entity-resolver/internal/model"
)

// MockResolver is a mock type for the Resolver interface.
type MockResolver struct {
	mock.Mock
}

func (_m *MockResolver) Resolve(ctx context.Context, raw string, kind model.EntityKind) (*model.CandidateList, error) {
	ret := _m.Called(ctx, raw, kind)

	var r0 *model.CandidateList
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.CandidateList)
	}
	return r0, ret.Error(1)
}

// MockFeedback is a mock type for the Feedback interface.
type MockFeedback struct {
	mock.Mock
}

func (_m *MockFeedback) RecordConfirm(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error) {
	ret := _m.Called(ctx, pattern, entityID)

	var r0 *model.FeedbackRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.FeedbackRecord)
	}
	return r0, ret.Error(1)
}

func (_m *MockFeedback) RecordReject(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error) {
	ret := _m.Called(ctx, pattern, entityID)

	var r0 *model.FeedbackRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.FeedbackRecord)
	}
	return r0, ret.Error(1)
}

// MockLedgers is a mock type for the Ledgers interface.
type MockLedgers struct {
	mock.Mock
}

func (_m *MockLedgers) GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error) {
	ret := _m.Called(ctx, id)

	var r0 *model.CanonicalEntity
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.CanonicalEntity)
	}
	return r0, ret.Error(1)
}

func (_m *MockLedgers) ListAliasesForEntity(ctx context.Context, entityID string) ([]model.Alias, error) {
	ret := _m.Called(ctx, entityID)

	var r0 []model.Alias
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.Alias)
	}
	return r0, ret.Error(1)
}

func (_m *MockLedgers) UpsertAlias(ctx context.Context, entityID, rawText string, provenance model.Provenance) (*model.Alias, error) {
	ret := _m.Called(ctx, entityID, rawText, provenance)

	var r0 *model.Alias
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Alias)
	}
	return r0, ret.Error(1)
}

func (_m *MockLedgers) AppendDecision(ctx context.Context, entry *model.DecisionLogEntry) error {
	ret := _m.Called(ctx, entry)
	return ret.Error(0)
}
