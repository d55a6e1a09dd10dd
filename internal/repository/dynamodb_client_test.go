package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"chatppt/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	queryOuts    []*dynamodb.QueryOutput
	queryErr     error
	updateErr    error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	queryInputs  []*dynamodb.QueryInput
	lastUpdateIn *dynamodb.UpdateItemInput
	updateInputs []*dynamodb.UpdateItemInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	cp := *in
	f.queryInputs = append(f.queryInputs, &cp)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	f.updateInputs = append(f.updateInputs, in)
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func makeTurnItem(sessionID string, seq int, role, content string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(seq)},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"seq":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", seq)},
		"role":      &types.AttributeValueMemberS{Value: role},
		"content":   &types.AttributeValueMemberS{Value: content},
	}
}

func makeMetaItem(sessionID string, turns int, state string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: skMeta},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"turns":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turns)},
		"state":     &types.AttributeValueMemberS{Value: state},
	}
}

func mustNewDynamo(t *testing.T, db *fakeDynamo) *DynamoStore {
	t.Helper()
	c, err := NewDynamo(db, "test-table", time.Hour)
	require.NoError(t, err)
	return c
}

func fixedNow(t *testing.T) time.Time {
	t.Helper()
	ts := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	orig := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = orig })
	return ts
}

func TestNewDynamo_Validates(t *testing.T) {
	_, err := NewDynamo(nil, "t", 0)
	require.Error(t, err)
	_, err = NewDynamo(&fakeDynamo{}, " ", 0)
	require.Error(t, err)

	c, err := NewDynamo(&fakeDynamo{}, "t", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultTTL, c.ttl)
}

func TestTurnSK_SortsInAppendOrder(t *testing.T) {
	require.Equal(t, "TURN#00000000", turnSK(0))
	require.Less(t, turnSK(9), turnSK(10))
}

func TestGetHistory_HappyPath(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			makeTurnItem("abc", 0, "assistant", "first"),
			makeTurnItem("abc", 1, "assistant", "second"),
		},
	}}}
	c := mustNewDynamo(t, db)

	history, err := c.GetHistory(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, domain.History{
		{Role: domain.RoleAssistant, Content: "first"},
		{Role: domain.RoleAssistant, Content: "second"},
	}, history)

	in := db.queryInputs[0]
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *in.KeyConditionExpression)
	require.True(t, *in.ScanIndexForward)
	require.True(t, *in.ConsistentRead)
	require.Equal(t, "SESSION#abc", in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value)
}

func TestTurnRequirement_RoundTrips(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewDynamo(t, db)
	turn := domain.Turn{Role: domain.RoleAssistant, Content: "deck", Requirement: "需求如下:\nsales"}

	require.NoError(t, c.AppendTurn(context.Background(), "abc", 0, turn, domain.StateSynthesized))
	item := db.lastTxInput.TransactItems[0].Put.Item
	require.Equal(t, "需求如下:\nsales", item["requirement"].(*types.AttributeValueMemberS).Value)

	db.queryOuts = []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}
	history, err := c.GetHistory(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, domain.History{turn}, history)

	require.NoError(t, c.AppendTurn(context.Background(), "abc", 0, domain.Turn{Role: domain.RoleAssistant, Content: "doc"}, domain.StateSynthesized))
	require.NotContains(t, db.lastTxInput.TransactItems[0].Put.Item, "requirement")
}

func TestGetHistory_FollowsPagination(t *testing.T) {
	lastKey := map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "SESSION#abc"}}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{makeTurnItem("abc", 0, "assistant", "p1")}, LastEvaluatedKey: lastKey},
		{Items: []map[string]types.AttributeValue{makeTurnItem("abc", 1, "assistant", "p2")}},
	}}
	c := mustNewDynamo(t, db)

	history, err := c.GetHistory(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.Equal(t, lastKey, db.queryInputs[1].ExclusiveStartKey)
}

func TestGetHistory_EmptyResult(t *testing.T) {
	c := mustNewDynamo(t, &fakeDynamo{})
	history, err := c.GetHistory(context.Background(), "abc")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestGetHistory_QueryError(t *testing.T) {
	c := mustNewDynamo(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.GetHistory(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetHistory")
}

func TestGetHistory_MalformedItem_MissingContent(t *testing.T) {
	item := makeTurnItem("abc", 0, "assistant", "x")
	delete(item, "content")
	c := mustNewDynamo(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}})
	_, err := c.GetHistory(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "content")
}

func TestAppendTurn_WritesTurnAndMetaAtomically(t *testing.T) {
	ts := fixedNow(t)
	db := &fakeDynamo{}
	c := mustNewDynamo(t, db)

	err := c.AppendTurn(context.Background(), "abc", 2, domain.Turn{Role: domain.RoleAssistant, Content: "deck"}, domain.StateAugmented)
	require.NoError(t, err)

	items := db.lastTxInput.TransactItems
	require.Len(t, items, 2)

	put := items[0].Put
	require.Equal(t, "attribute_not_exists(SK) OR #ttl <= :epoch", *put.ConditionExpression)
	require.Equal(t, fmt.Sprintf("%d", ts.Unix()), put.ExpressionAttributeValues[":epoch"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "TURN#00000002", put.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "deck", put.Item["content"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, fmt.Sprintf("%d", ts.Add(time.Hour).Unix()), put.Item["ttl"].(*types.AttributeValueMemberN).Value)

	update := items[1].Update
	require.Equal(t, "attribute_not_exists(turns) OR turns = :seq OR #ttl <= :epoch", *update.ConditionExpression)
	require.Equal(t, "2", update.ExpressionAttributeValues[":seq"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "3", update.ExpressionAttributeValues[":next"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "augmented", update.ExpressionAttributeValues[":state"].(*types.AttributeValueMemberS).Value)

	// Earlier turns share the new deadline.
	deadline := fmt.Sprintf("%d", ts.Add(time.Hour).Unix())
	require.Len(t, db.updateInputs, 2)
	for i, in := range db.updateInputs {
		require.Equal(t, turnSK(i), in.Key["SK"].(*types.AttributeValueMemberS).Value)
		require.Equal(t, "attribute_exists(SK)", *in.ConditionExpression)
		require.Equal(t, deadline, in.ExpressionAttributeValues[":ttl"].(*types.AttributeValueMemberN).Value)
	}
}

func TestAppendTurn_SkipsTurnsAlreadySwept(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: strPtr("gone")}}
	c := mustNewDynamo(t, db)

	err := c.AppendTurn(context.Background(), "abc", 1, domain.Turn{Role: domain.RoleAssistant, Content: "x"}, domain.StateSynthesized)
	require.NoError(t, err)
	require.Len(t, db.updateInputs, 1)
	require.NotNil(t, db.lastTxInput)
}

func TestAppendTurn_TouchError(t *testing.T) {
	db := &fakeDynamo{updateErr: errors.New("throttled")}
	c := mustNewDynamo(t, db)

	err := c.AppendTurn(context.Background(), "abc", 1, domain.Turn{Role: domain.RoleAssistant, Content: "x"}, domain.StateSynthesized)
	require.ErrorContains(t, err, "touch turn 0")
	require.Nil(t, db.lastTxInput)
}

func TestGetHistory_DropsExpiredItems(t *testing.T) {
	ts := fixedNow(t)
	old := makeTurnItem("abc", 0, "assistant", "old")
	old["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ts.Unix())}
	live := makeTurnItem("abc", 1, "assistant", "live")
	live["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ts.Add(time.Minute).Unix())}
	c := mustNewDynamo(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{old, live}}}})

	history, err := c.GetHistory(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, domain.History{{Role: domain.RoleAssistant, Content: "live"}}, history)
}

func TestGetMeta_ExpiredIsEmpty(t *testing.T) {
	ts := fixedNow(t)
	item := makeMetaItem("abc", 3, "rendered")
	item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ts.Add(-time.Second).Unix())}
	c := mustNewDynamo(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})

	meta, err := c.GetMeta(context.Background(), "abc")
	require.NoError(t, err)
	require.Zero(t, meta.Turns)
	require.Empty(t, meta.State)
}

func TestAppendTurn_ConflictOnCanceledTransaction(t *testing.T) {
	db := &fakeDynamo{txErr: &types.TransactionCanceledException{Message: strPtr("ConditionalCheckFailed")}}
	c := mustNewDynamo(t, db)

	err := c.AppendTurn(context.Background(), "abc", 0, domain.Turn{Role: domain.RoleAssistant, Content: "x"}, domain.StateSynthesized)
	require.ErrorIs(t, err, ErrConflict)
}

func TestAppendTurn_OtherErrors(t *testing.T) {
	c := mustNewDynamo(t, &fakeDynamo{txErr: errors.New("ProvisionedThroughputExceededException")})
	err := c.AppendTurn(context.Background(), "abc", 0, domain.Turn{Role: domain.RoleAssistant, Content: "x"}, domain.StateSynthesized)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrConflict)
	require.Contains(t, err.Error(), "AppendTurn")
}

func TestAppendTurn_ValidatesInput(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewDynamo(t, db)
	turn := domain.Turn{Role: domain.RoleAssistant, Content: "x"}

	require.Error(t, c.AppendTurn(context.Background(), "", 0, turn, domain.StateSynthesized))
	require.Error(t, c.AppendTurn(context.Background(), "abc", -1, turn, domain.StateSynthesized))
	require.Error(t, c.AppendTurn(context.Background(), "abc", 0, domain.Turn{Role: "system"}, domain.StateSynthesized))
	require.Error(t, c.AppendTurn(context.Background(), "abc", 0, turn, "bogus"))
	require.Nil(t, db.lastTxInput)
}

func TestGetState(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeMetaItem("abc", 3, "rendered")}}
	c := mustNewDynamo(t, db)

	state, err := c.GetState(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, domain.StateRendered, state)
	require.True(t, *db.lastGetInput.ConsistentRead)

	meta, err := c.GetMeta(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, 3, meta.Turns)
	require.Equal(t, "abc", meta.SessionID)
}

func TestGetState_MissingMeta(t *testing.T) {
	c := mustNewDynamo(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	state, err := c.GetState(context.Background(), "abc")
	require.NoError(t, err)
	require.Empty(t, state)
}

func TestGetState_Errors(t *testing.T) {
	c := mustNewDynamo(t, &fakeDynamo{getErr: errors.New("boom")})
	_, err := c.GetState(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetMeta")

	item := makeMetaItem("abc", 1, "synthesized")
	item["turns"] = &types.AttributeValueMemberS{Value: "bad"}
	c = mustNewDynamo(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	_, err = c.GetState(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}

func TestSetState(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewDynamo(t, db)

	require.NoError(t, c.SetState(context.Background(), "abc", domain.StateRendered))
	require.Equal(t, "rendered", db.lastUpdateIn.ExpressionAttributeValues[":state"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "SESSION#abc", db.lastUpdateIn.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "0", db.lastUpdateIn.ExpressionAttributeValues[":turns"].(*types.AttributeValueMemberN).Value)

	require.Error(t, c.SetState(context.Background(), "abc", "bogus"))

	db.updateErr = errors.New("boom")
	err := c.SetState(context.Background(), "abc", domain.StateRendered)
	require.Error(t, err)
	require.Contains(t, err.Error(), "SetState")
}

func TestSetState_RefreshesTurns(t *testing.T) {
	ts := fixedNow(t)
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeMetaItem("abc", 2, "augmented")}}
	c := mustNewDynamo(t, db)

	require.NoError(t, c.SetState(context.Background(), "abc", domain.StateRendered))
	require.Len(t, db.updateInputs, 3)
	require.Equal(t, "TURN#00000000", db.updateInputs[0].Key["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "TURN#00000001", db.updateInputs[1].Key["SK"].(*types.AttributeValueMemberS).Value)

	meta := db.updateInputs[2]
	require.Equal(t, skMeta, meta.Key["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "2", meta.ExpressionAttributeValues[":turns"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, fmt.Sprintf("%d", ts.Add(time.Hour).Unix()), meta.ExpressionAttributeValues[":ttl"].(*types.AttributeValueMemberN).Value)
}

func TestSetState_ConflictWhenTurnsChanged(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: strPtr("changed")}}
	c := mustNewDynamo(t, db)

	err := c.SetState(context.Background(), "abc", domain.StateRendered)
	require.ErrorIs(t, err, ErrConflict)
}

func strPtr(s string) *string { return &s }
