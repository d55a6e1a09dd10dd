package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chatppt/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skMeta       = "META#"
	// DefaultTTL bounds how long a session outlives its last activity.
	DefaultTTL = 30 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps session histories in a single DynamoDB table.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
}

// NewDynamo creates a DynamoStore. A non-positive ttl selects DefaultTTL.
func NewDynamo(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoStore{api: api, tableName: tableName, ttl: ttl}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// turnSK returns the sort key for a turn. Zero padding keeps lexical order
// equal to append order.
func turnSK(seq int) string {
	return fmt.Sprintf("%s%08d", skPrefixTurn, seq)
}

func (c *DynamoStore) ttlValue() int64 {
	return now().Add(c.ttl).Unix()
}

// GetHistory reads every turn of a session in append order.
func (c *DynamoStore) GetHistory(ctx context.Context, sessionID string) (domain.History, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	at := now().Unix()
	var history domain.History
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory query: %w", err)
		}
		for _, item := range out.Items {
			if expired(item, at) {
				continue
			}
			rec, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
			}
			history = append(history, domain.Turn{Role: rec.Role, Content: rec.Content, Requirement: rec.Requirement})
		}
		if len(out.LastEvaluatedKey) == 0 {
			return history, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// AppendTurn writes turn seq and the session's new state in one transaction.
// It fails with ErrConflict when another writer already committed turn seq.
// Earlier turns get the new deadline first, so the session expires as a whole.
func (c *DynamoStore) AppendTurn(ctx context.Context, sessionID string, seq int, turn domain.Turn, state domain.State) error {
	if err := checkAppend(sessionID, seq, turn, state); err != nil {
		return err
	}
	rec := NewTurnRecord(sessionID, seq, turn, c.ttlValue())
	if err := c.touchTurns(ctx, sessionID, seq, rec.TTL); err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	epoch := numAttr64(now().Unix())

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:                 aws.String(c.tableName),
					Item:                      turnItem(rec),
					ConditionExpression:       aws.String("attribute_not_exists(SK) OR #ttl <= :epoch"),
					ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
					ExpressionAttributeValues: map[string]types.AttributeValue{":epoch": epoch},
				},
			},
			{
				Update: &types.Update{
					TableName:           aws.String(c.tableName),
					Key:                 metaKey(sessionID),
					UpdateExpression:    aws.String("SET turns = :next, #state = :state, sessionId = :sid, lastActivity = :now, #ttl = :ttl"),
					ConditionExpression: aws.String("attribute_not_exists(turns) OR turns = :seq OR #ttl <= :epoch"),
					ExpressionAttributeNames: map[string]string{
						"#state": "state",
						"#ttl":   "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":next":  numAttr(seq + 1),
						":seq":   numAttr(seq),
						":state": &types.AttributeValueMemberS{Value: string(state)},
						":sid":   &types.AttributeValueMemberS{Value: sessionID},
						":now":   &types.AttributeValueMemberS{Value: now().UTC().Format(time.RFC3339)},
						":ttl":   numAttr64(rec.TTL),
						":epoch": epoch,
					},
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return fmt.Errorf("repository: AppendTurn %s seq %d: %w", sessionID, seq, ErrConflict)
		}
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

// GetState returns the persisted rest state, or "" for an unknown session.
func (c *DynamoStore) GetState(ctx context.Context, sessionID string) (domain.State, error) {
	meta, err := c.GetMeta(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return meta.State, nil
}

// GetMeta returns the session metadata record. A missing or expired record
// yields the zero value.
func (c *DynamoStore) GetMeta(ctx context.Context, sessionID string) (domain.SessionMeta, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            metaKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.SessionMeta{}, fmt.Errorf("repository: GetMeta get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 || expired(out.Item, now().Unix()) {
		return domain.SessionMeta{}, nil
	}
	meta, err := itemToMeta(out.Item)
	if err != nil {
		return domain.SessionMeta{}, fmt.Errorf("repository: GetMeta decode: %w", err)
	}
	return meta, nil
}

// SetState records a rest state that did not append a turn. Like AppendTurn
// it moves the deadline of the whole session.
func (c *DynamoStore) SetState(ctx context.Context, sessionID string, state domain.State) error {
	if !state.Valid() {
		return fmt.Errorf("repository: SetState: invalid state %q", state)
	}
	meta, err := c.GetMeta(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("repository: SetState: %w", err)
	}
	expiresAt := c.ttlValue()
	if err := c.touchTurns(ctx, sessionID, meta.Turns, expiresAt); err != nil {
		return fmt.Errorf("repository: SetState: %w", err)
	}
	_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(c.tableName),
		Key:                      metaKey(sessionID),
		UpdateExpression:         aws.String("SET turns = :turns, #state = :state, sessionId = :sid, lastActivity = :now, #ttl = :ttl"),
		ConditionExpression:      aws.String("attribute_not_exists(turns) OR turns = :turns OR #ttl <= :epoch"),
		ExpressionAttributeNames: map[string]string{"#state": "state", "#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":turns": numAttr(meta.Turns),
			":state": &types.AttributeValueMemberS{Value: string(state)},
			":sid":   &types.AttributeValueMemberS{Value: sessionID},
			":now":   &types.AttributeValueMemberS{Value: now().UTC().Format(time.RFC3339)},
			":ttl":   numAttr64(expiresAt),
			":epoch": numAttr64(now().Unix()),
		},
	})
	if err != nil {
		var changed *types.ConditionalCheckFailedException
		if errors.As(err, &changed) {
			return fmt.Errorf("repository: SetState %s: %w", sessionID, ErrConflict)
		}
		return fmt.Errorf("repository: SetState: %w", err)
	}
	return nil
}

// touchTurns moves the deadline of turns [0, n) to expiresAt. Turns already
// swept by DynamoDB are skipped rather than recreated.
func (c *DynamoStore) touchTurns(ctx context.Context, sessionID string, n int, expiresAt int64) error {
	for seq := 0; seq < n; seq++ {
		_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(c.tableName),
			Key:                       turnKey(sessionID, seq),
			UpdateExpression:          aws.String("SET #ttl = :ttl"),
			ConditionExpression:       aws.String("attribute_exists(SK)"),
			ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":ttl": numAttr64(expiresAt)},
		})
		var gone *types.ConditionalCheckFailedException
		if errors.As(err, &gone) {
			continue
		}
		if err != nil {
			return fmt.Errorf("touch turn %d: %w", seq, err)
		}
	}
	return nil
}

// expired reports whether item is past its deadline. DynamoDB deletes expired
// items lazily, so reads drop them here.
func expired(item map[string]types.AttributeValue, at int64) bool {
	n, ok := item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	deadline, err := strconv.ParseInt(n.Value, 10, 64)
	return err == nil && deadline <= at
}

// NewTurnRecord constructs a TurnRecord with PK/SK set from the session and sequence.
func NewTurnRecord(sessionID string, seq int, turn domain.Turn, ttl int64) domain.TurnRecord {
	return domain.TurnRecord{
		PK:        sessionPK(sessionID),
		SK:        turnSK(seq),
		SessionID: sessionID,
		Seq:       seq,
		Role:        turn.Role,
		Content:     turn.Content,
		Requirement: turn.Requirement,
		TTL:         ttl,
	}
}

func turnKey(sessionID string, seq int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: turnSK(seq)},
	}
}

func metaKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// itemToTurn converts a DynamoDB attribute map to a TurnRecord.
func itemToTurn(item map[string]types.AttributeValue) (domain.TurnRecord, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	sessionID, _ := strAttr(item, "sessionId")     // allow empty
	requirement, _ := strAttr(item, "requirement") // absent for document drafts

	return domain.TurnRecord{
		PK:          pk,
		SK:          sk,
		SessionID:   sessionID,
		Seq:         seq,
		Role:        domain.Role(role),
		Content:     content,
		Requirement: requirement,
	}, nil
}

func itemToMeta(item map[string]types.AttributeValue) (domain.SessionMeta, error) {
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	state, _ := strAttr(item, "state")
	sessionID, _ := strAttr(item, "sessionId")
	lastActivity, _ := strAttr(item, "lastActivity")
	return domain.SessionMeta{
		PK:           sessionPK(sessionID),
		SK:           skMeta,
		SessionID:    sessionID,
		LastActivity: lastActivity,
		Turns:        turns,
		State:        domain.State(state),
	}, nil
}

func turnItem(rec domain.TurnRecord) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: rec.PK},
		"SK":        &types.AttributeValueMemberS{Value: rec.SK},
		"sessionId": &types.AttributeValueMemberS{Value: rec.SessionID},
		"seq":       numAttr(rec.Seq),
		"role":      &types.AttributeValueMemberS{Value: string(rec.Role)},
		"content":   &types.AttributeValueMemberS{Value: rec.Content},
		"ttl":       numAttr64(rec.TTL),
	}
	if rec.Requirement != "" {
		item["requirement"] = &types.AttributeValueMemberS{Value: rec.Requirement}
	}
	return item
}

func numAttr(n int) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func numAttr64(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
