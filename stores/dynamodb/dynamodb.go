package dynamodb

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	goswrcache "github.com/velvetgalaxy/go-swr-cache"
	"github.com/velvetgalaxy/go-swr-cache/stores"
)

// Config defines the configuration options for the DynamoDB store.
type Config struct {
	EntriesTable string
	MediaTable   string

	// UseNativeTTL additionally writes a ttl_epoch attribute in epoch
	// seconds so a table TTL policy on that attribute can reap expired rows
	// server-side. The Get path still purges on access either way.
	UseNativeTTL bool
}

// Store implements goswrcache.Store on two DynamoDB tables, one for
// TTL-bound data entries and one for media blobs.
type Store struct {
	client *dynamodb.Client

	entriesTable string
	mediaTable   string
	nativeTTL    bool
	now          func() time.Time
}

type entryItem struct {
	Key       string   `dynamodbav:"cache_key"`
	Data      []byte   `dynamodbav:"data"`
	Tags      []string `dynamodbav:"tags,omitempty"`
	CreatedAt int64    `dynamodbav:"created_at"`
	ExpiresAt int64    `dynamodbav:"expires_at"`

	// TTLEpoch is only written when the store is configured for native TTL.
	// DynamoDB TTL policies require epoch seconds.
	TTLEpoch int64 `dynamodbav:"ttl_epoch,omitempty"`
}

type mediaItem struct {
	Key       string `dynamodbav:"cache_key"`
	Blob      []byte `dynamodbav:"blob"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

// New creates a DynamoDB store instance with the provided configuration.
// Returns an error if the client is nil or a table name is missing.
func New(client *dynamodb.Client, config *Config) (*Store, error) {
	if client == nil {
		return nil, stores.ValidationError{Reason: "nil client"}
	}
	if config == nil || config.EntriesTable == "" || config.MediaTable == "" {
		return nil, stores.ValidationError{Reason: "entries and media table names are required"}
	}

	return &Store{
		client: client,

		entriesTable: config.EntriesTable,
		mediaTable:   config.MediaTable,
		nativeTTL:    config.UseNativeTTL,
		now:          time.Now,
	}, nil
}

func (s *Store) newEntryItem(key string, data []byte, ttl time.Duration, tags []string) entryItem {
	createdAt := s.now().UTC()
	expiresAt := createdAt.Add(ttl)

	item := entryItem{
		Key:       key,
		Data:      data,
		Tags:      tags,
		CreatedAt: createdAt.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
	}
	if s.nativeTTL {
		item.TTLEpoch = expiresAt.Unix()
	}
	return item
}

func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration, tags ...string) error {
	av, err := attributevalue.MarshalMap(s.newEntryItem(key, data, ttl, tags))
	if err != nil {
		return err
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.entriesTable),
		Item:      av,
	}); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*goswrcache.Entry, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(s.entriesTable),
	})
	if err != nil {
		return nil, errors.Join(stores.ErrUnavailable, err)
	}

	if output.Item == nil {
		return nil, goswrcache.ErrNotFound
	}

	var item entryItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}

	if s.now().UTC().UnixMilli() > item.ExpiresAt {
		if err := s.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, goswrcache.ErrNotFound
	}

	createdAt := time.UnixMilli(item.CreatedAt).UTC()
	return &goswrcache.Entry{
		Key:       key,
		Data:      item.Data,
		Tags:      item.Tags,
		Timestamp: createdAt,
		TTL:       time.UnixMilli(item.ExpiresAt).UTC().Sub(createdAt),
	}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.entriesTable),
		Key:       keyAttr(key),
	}); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

// DeleteTag scans for entries carrying the tag and deletes them. Tag
// invalidation is rare (post mutations), so a filtered scan is acceptable.
func (s *Store) DeleteTag(ctx context.Context, tag string) error {
	tagValue, err := attributevalue.Marshal(tag)
	if err != nil {
		return err
	}

	var startKey map[string]types.AttributeValue
	for {
		output, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.entriesTable),
			FilterExpression:          aws.String("contains(tags, :tag)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":tag": tagValue},
			ProjectionExpression:      aws.String("cache_key"),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return errors.Join(stores.ErrUnavailable, err)
		}

		for _, item := range output.Items {
			if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.entriesTable),
				Key:       map[string]types.AttributeValue{"cache_key": item["cache_key"]},
			}); err != nil {
				return errors.Join(stores.ErrUnavailable, err)
			}
		}

		startKey = output.LastEvaluatedKey
		if startKey == nil {
			return nil
		}
	}
}

func (s *Store) Clear(ctx context.Context) error {
	for _, table := range []string{s.entriesTable, s.mediaTable} {
		if err := s.clearTable(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) clearTable(ctx context.Context, table string) error {
	var startKey map[string]types.AttributeValue
	for {
		output, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(table),
			ProjectionExpression: aws.String("cache_key"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return errors.Join(stores.ErrUnavailable, err)
		}

		for _, item := range output.Items {
			if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(table),
				Key:       map[string]types.AttributeValue{"cache_key": item["cache_key"]},
			}); err != nil {
				return errors.Join(stores.ErrUnavailable, err)
			}
		}

		startKey = output.LastEvaluatedKey
		if startKey == nil {
			return nil
		}
	}
}

func (s *Store) SetMedia(ctx context.Context, key string, blob []byte) error {
	av, err := attributevalue.MarshalMap(mediaItem{
		Key:       key,
		Blob:      blob,
		CreatedAt: s.now().UTC().UnixMilli(),
	})
	if err != nil {
		return err
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.mediaTable),
		Item:      av,
	}); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) GetMedia(ctx context.Context, key string) ([]byte, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key:       keyAttr(key),
		TableName: aws.String(s.mediaTable),
	})
	if err != nil {
		return nil, errors.Join(stores.ErrUnavailable, err)
	}

	if output.Item == nil {
		return nil, goswrcache.ErrNotFound
	}

	var item mediaItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}
	return item.Blob, nil
}

func (s *Store) DeleteMedia(ctx context.Context, key string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.mediaTable),
		Key:       keyAttr(key),
	}); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"cache_key": &types.AttributeValueMemberS{Value: key},
	}
}
