package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/govern/model/change"
	"github.com/viant/govern/service/dao"
)

func TestService_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip returns an isolated copy", func(t *testing.T) {
		service := New()
		changeSet := &change.ChangeSet{ID: "cs-1", Status: change.StatusDraft,
			Records: []*change.ChangeRecord{{ID: "r1", SequenceNo: 1, Operation: change.OperationCreate,
				EntityType: "product", AfterState: change.State{"name": "widget"}}}}
		assert.Nil(t, service.Save(ctx, changeSet))

		loaded, err := service.Load(ctx, "cs-1")
		assert.Nil(t, err)
		loaded.Records[0].AfterState["name"] = "mutated"

		reloaded, err := service.Load(ctx, "cs-1")
		assert.Nil(t, err)
		assert.Equal(t, "widget", reloaded.Records[0].AfterState["name"])
	})

	t.Run("stale snapshot loses the race", func(t *testing.T) {
		service := New()
		assert.Nil(t, service.Save(ctx, &change.ChangeSet{ID: "cs-1", Status: change.StatusDraft}))

		first, _ := service.Load(ctx, "cs-1")
		second, _ := service.Load(ctx, "cs-1")

		first.Status = change.StatusPendingApproval
		assert.Nil(t, service.Save(ctx, first))

		second.Status = change.StatusRejected
		err := service.Save(ctx, second)
		assert.True(t, errors.Is(err, dao.ErrVersionConflict))
	})

	t.Run("nil entity", func(t *testing.T) {
		service := New()
		assert.True(t, errors.Is(service.Save(ctx, nil), dao.ErrNilEntity))
	})
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	service := New()
	assert.Nil(t, service.Save(ctx, &change.ChangeSet{ID: "cs-1", Status: change.StatusDraft}))
	assert.Nil(t, service.Save(ctx, &change.ChangeSet{ID: "cs-2", Status: change.StatusPendingApproval}))
	assert.Nil(t, service.Save(ctx, &change.ChangeSet{ID: "cs-3", Status: change.StatusPendingApproval}))

	all, err := service.List(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 3, len(all))

	pending, err := service.List(ctx, dao.NewParameter("status", string(change.StatusPendingApproval)))
	assert.Nil(t, err)
	assert.Equal(t, 2, len(pending))
}
