package route53_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	r53 "github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/integration/dns/route53"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) ListResourceRecordSets(ctx context.Context, in *r53.ListResourceRecordSetsInput, _ ...func(*r53.Options)) (*r53.ListResourceRecordSetsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*r53.ListResourceRecordSetsOutput)
	return out, args.Error(1)
}

func (m *mockAPI) ChangeResourceRecordSets(ctx context.Context, in *r53.ChangeResourceRecordSetsInput, _ ...func(*r53.Options)) (*r53.ChangeResourceRecordSetsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*r53.ChangeResourceRecordSetsOutput)
	return out, args.Error(1)
}

func (m *mockAPI) GetChange(ctx context.Context, in *r53.GetChangeInput, _ ...func(*r53.Options)) (*r53.GetChangeOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*r53.GetChangeOutput)
	return out, args.Error(1)
}

func newClient(t *testing.T, api route53.API) *route53.Client {
	t.Helper()
	c, err := route53.New(t.Context(), route53.Config{
		HostedZoneID: "Z1",
		Region:       "us-east-1",
		SyncInterval: 10 * time.Millisecond,
		SyncTimeout:  200 * time.Millisecond,
	}, route53.WithAPI(api))
	require.NoError(t, err)
	return c
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := route53.New(t.Context(), route53.Config{Region: "us-east-1"})
	assert.ErrorIs(t, err, route53.ErrInvalidConfig)
}

func TestListRecordSets(t *testing.T) {
	t.Parallel()

	t.Run("first page with cursor", func(t *testing.T) {
		t.Parallel()

		api := &mockAPI{}
		api.On("ListResourceRecordSets", mock.Anything, mock.MatchedBy(func(in *r53.ListResourceRecordSetsInput) bool {
			return aws.ToString(in.HostedZoneId) == "Z1" && in.StartRecordName == nil
		})).Return(&r53.ListResourceRecordSetsOutput{
			ResourceRecordSets: []types.ResourceRecordSet{{
				Name:            aws.String("WWW.acme.example.com."),
				Type:            types.RRTypeA,
				TTL:             aws.Int64(300),
				ResourceRecords: []types.ResourceRecord{{Value: aws.String("192.0.2.1")}, {Value: aws.String("192.0.2.2")}},
			}, {
				Name:            aws.String(`\052.acme.example.com.`),
				Type:            types.RRTypeA,
				TTL:             aws.Int64(300),
				ResourceRecords: []types.ResourceRecord{{Value: aws.String("192.0.2.3")}},
			}},
			IsTruncated:    true,
			NextRecordName: aws.String("zz.acme.example.com."),
			NextRecordType: types.RRTypeTxt,
		}, nil).Once()

		page, err := newClient(t, api).ListRecordSets(t.Context(), nil)
		require.NoError(t, err)
		require.Len(t, page.RecordSets, 2)
		assert.Equal(t, route53.RecordSet{
			Name:   "www.acme.example.com.",
			Type:   "A",
			TTL:    300,
			Values: []string{"192.0.2.1", "192.0.2.2"},
		}, page.RecordSets[0])
		assert.Equal(t, "*.acme.example.com.", page.RecordSets[1].Name, "wildcard escape is decoded")
		require.NotNil(t, page.Next)
		assert.Equal(t, route53.Cursor{Name: "zz.acme.example.com.", Type: "TXT"}, *page.Next)
		api.AssertExpectations(t)
	})

	t.Run("cursor is forwarded and last page has no next", func(t *testing.T) {
		t.Parallel()

		api := &mockAPI{}
		api.On("ListResourceRecordSets", mock.Anything, mock.MatchedBy(func(in *r53.ListResourceRecordSetsInput) bool {
			return aws.ToString(in.StartRecordName) == "zz.acme.example.com." && in.StartRecordType == types.RRTypeTxt
		})).Return(&r53.ListResourceRecordSetsOutput{}, nil).Once()

		page, err := newClient(t, api).ListRecordSets(t.Context(), &route53.Cursor{Name: "zz.acme.example.com.", Type: "TXT"})
		require.NoError(t, err)
		assert.Empty(t, page.RecordSets)
		assert.Nil(t, page.Next)
		api.AssertExpectations(t)
	})

	t.Run("missing zone is classified", func(t *testing.T) {
		t.Parallel()

		api := &mockAPI{}
		api.On("ListResourceRecordSets", mock.Anything, mock.Anything).
			Return(nil, &types.NoSuchHostedZone{Message: aws.String("gone")}).Once()

		_, err := newClient(t, api).ListRecordSets(t.Context(), nil)
		assert.ErrorIs(t, err, route53.ErrZoneNotFound)
		assert.True(t, route53.IsPermanent(err))
	})
}

func TestDecodeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"www.acme.example.com.", "www.acme.example.com."},
		{`\052.acme.example.com.`, "*.acme.example.com."},
		{`a\.b.example.com.`, "a.b.example.com."},
		{`\05`, `05`},
		{`trailing\`, `trailing\`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, route53.DecodeName(tt.in))
		})
	}
}

func TestChangeRecordSets(t *testing.T) {
	t.Parallel()

	t.Run("builds the batch with default ttl", func(t *testing.T) {
		t.Parallel()

		api := &mockAPI{}
		api.On("ChangeResourceRecordSets", mock.Anything, mock.MatchedBy(func(in *r53.ChangeResourceRecordSetsInput) bool {
			if len(in.ChangeBatch.Changes) != 2 {
				return false
			}
			up, del := in.ChangeBatch.Changes[0], in.ChangeBatch.Changes[1]
			return up.Action == types.ChangeActionUpsert &&
				aws.ToInt64(up.ResourceRecordSet.TTL) == route53.DefaultTTL &&
				aws.ToString(up.ResourceRecordSet.ResourceRecords[0].Value) == `"k1"` &&
				del.Action == types.ChangeActionDelete
		})).Return(&r53.ChangeResourceRecordSetsOutput{
			ChangeInfo: &types.ChangeInfo{Id: aws.String("/change/C1"), Status: types.ChangeStatusPending},
		}, nil).Once()

		id, err := newClient(t, api).ChangeRecordSets(t.Context(), []route53.Change{
			{Action: route53.ActionUpsert, RecordSet: route53.RecordSet{Name: "_acme-challenge.acme.example.com.", Type: "TXT", Values: []string{`"k1"`}}},
			{Action: route53.ActionDelete, RecordSet: route53.RecordSet{Name: "old.acme.example.com.", Type: "A", TTL: 60, Values: []string{"192.0.2.9"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, "/change/C1", id)
		api.AssertExpectations(t)
	})

	t.Run("rejects empty and oversized batches", func(t *testing.T) {
		t.Parallel()

		c := newClient(t, &mockAPI{})
		_, err := c.ChangeRecordSets(t.Context(), nil)
		assert.ErrorIs(t, err, route53.ErrEmptyChangeBatch)

		_, err = c.ChangeRecordSets(t.Context(), make([]route53.Change, route53.MaxChangesPerBatch+1))
		assert.ErrorIs(t, err, route53.ErrBatchTooLarge)
	})

	t.Run("invalid batch is permanent, throttling is not", func(t *testing.T) {
		t.Parallel()

		api := &mockAPI{}
		api.On("ChangeResourceRecordSets", mock.Anything, mock.Anything).
			Return(nil, &types.InvalidChangeBatch{Message: aws.String("bad")}).Once()
		api.On("ChangeResourceRecordSets", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "Throttling", Message: "slow down"}).Once()

		c := newClient(t, api)
		changes := []route53.Change{{Action: route53.ActionUpsert, RecordSet: route53.RecordSet{Name: "a.", Type: "A", Values: []string{"192.0.2.1"}}}}

		_, err := c.ChangeRecordSets(t.Context(), changes)
		assert.ErrorIs(t, err, route53.ErrInvalidChange)
		assert.True(t, route53.IsPermanent(err))

		_, err = c.ChangeRecordSets(t.Context(), changes)
		assert.ErrorIs(t, err, route53.ErrThrottled)
		assert.False(t, route53.IsPermanent(err))
	})
}

func TestWaitForSync(t *testing.T) {
	t.Parallel()

	t.Run("polls until insync", func(t *testing.T) {
		t.Parallel()

		api := &mockAPI{}
		api.On("GetChange", mock.Anything, mock.Anything).
			Return(&r53.GetChangeOutput{ChangeInfo: &types.ChangeInfo{Status: types.ChangeStatusPending}}, nil).Twice()
		api.On("GetChange", mock.Anything, mock.Anything).
			Return(&r53.GetChangeOutput{ChangeInfo: &types.ChangeInfo{Status: types.ChangeStatusInsync}}, nil).Once()

		require.NoError(t, newClient(t, api).WaitForSync(t.Context(), "/change/C1"))
		api.AssertNumberOfCalls(t, "GetChange", 3)
	})

	t.Run("times out", func(t *testing.T) {
		t.Parallel()

		api := &mockAPI{}
		api.On("GetChange", mock.Anything, mock.Anything).
			Return(&r53.GetChangeOutput{ChangeInfo: &types.ChangeInfo{Status: types.ChangeStatusPending}}, nil)

		err := newClient(t, api).WaitForSync(t.Context(), "/change/C1")
		assert.ErrorIs(t, err, route53.ErrSyncTimeout)
	})

	t.Run("status error stops polling", func(t *testing.T) {
		t.Parallel()

		api := &mockAPI{}
		api.On("GetChange", mock.Anything, mock.Anything).
			Return(nil, errors.New("boom")).Once()

		err := newClient(t, api).WaitForSync(t.Context(), "/change/C1")
		assert.ErrorContains(t, err, "boom")
	})
}
