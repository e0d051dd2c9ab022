package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/crystal-tensor/svdb/model"
)

// ErrVersionConflict is returned when another writer already committed the
// version being published.
var ErrVersionConflict = errors.New("s3: snapshot version already committed")

// DynamoDBClient is the subset of the DynamoDB API the version store uses.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// VersionStore records which snapshot version is current for a dataset.
// S3 has no conditional writes across objects, so the pointer lives in a
// DynamoDB table where a conditional put gives compare-and-swap semantics.
//
// Table schema: partition key "dataset" (S), sort key "version" (N).
type VersionStore struct {
	client  DynamoDBClient
	table   string
	dataset string
}

// NewVersionStore creates a version store for one dataset.
func NewVersionStore(client DynamoDBClient, table, dataset string) *VersionStore {
	return &VersionStore{client: client, table: table, dataset: dataset}
}

// Commit publishes a snapshot version pointing at the given blob name.
// Committing a version that already exists fails with ErrVersionConflict.
func (v *VersionStore) Commit(ctx context.Context, version model.Version, name string) error {
	_, err := v.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(v.table),
		Item: map[string]types.AttributeValue{
			"dataset": &types.AttributeValueMemberS{Value: v.dataset},
			"version": &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(version), 10)},
			"name":    &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return ErrVersionConflict
		}
		return err
	}
	return nil
}

// Latest returns the highest committed version and its blob name.
func (v *VersionStore) Latest(ctx context.Context) (model.Version, string, error) {
	out, err := v.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(v.table),
		KeyConditionExpression: aws.String("dataset = :d"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": &types.AttributeValueMemberS{Value: v.dataset},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", err
	}
	if len(out.Items) == 0 {
		return 0, "", nil
	}

	item := out.Items[0]
	verAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", fmt.Errorf("s3: malformed version attribute")
	}
	ver, err := strconv.ParseUint(verAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: parse version: %w", err)
	}
	nameAttr, ok := item["name"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", fmt.Errorf("s3: malformed name attribute")
	}
	return model.Version(ver), nameAttr.Value, nil
}
