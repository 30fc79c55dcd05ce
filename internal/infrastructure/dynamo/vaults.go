package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/deadlock-vault/internal/config"
	"github.com/deadlock-vault/internal/domain"
)

// API is the subset of *dynamodb.Client the vault repo calls.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ownerClaim is the item in the owners table that reserves an owner for
// exactly one vault.
type ownerClaim struct {
	OwnerID string `dynamodbav:"owner_id"`
	VaultID string `dynamodbav:"vault_id"`
}

// VaultRepo stores one item per vault plus one owner claim per owner. Every
// write is conditional on the version attribute so concurrent writers cannot
// clobber each other.
type VaultRepo struct {
	client      API
	tableName   string
	ownersTable string
}

func NewVaultRepo(client API, tables config.DynamoTables) *VaultRepo {
	return &VaultRepo{client: client, tableName: tables.Vaults, ownersTable: tables.Owners}
}

// Insert writes the owner claim and the vault in one transaction, so a
// second vault for the same owner fails even across processes.
func (r *VaultRepo) Insert(ctx context.Context, v *domain.Vault) error {
	next := *v
	next.Version = 1
	item, err := attributevalue.MarshalMap(&next)
	if err != nil {
		return fmt.Errorf("marshal vault: %w", err)
	}
	claim, err := attributevalue.MarshalMap(ownerClaim{OwnerID: v.OwnerID, VaultID: v.VaultID})
	if err != nil {
		return fmt.Errorf("marshal owner claim: %w", err)
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                aws.String(r.ownersTable),
				Item:                     claim,
				ConditionExpression:      aws.String("attribute_not_exists(#owner)"),
				ExpressionAttributeNames: map[string]string{"#owner": fieldOwnerID},
			}},
			{Put: &types.Put{
				TableName:                aws.String(r.tableName),
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#id)"),
				ExpressionAttributeNames: map[string]string{"#id": fieldVaultID},
			}},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("%s: %w", cancelledInsertReason(tce), domain.ErrConflict)
		}
		return fmt.Errorf("put vault: %w", err)
	}
	v.Version = 1
	return nil
}

// cancelledInsertReason names the failed condition. Reasons are positional:
// the owner claim first, then the vault.
func cancelledInsertReason(tce *types.TransactionCanceledException) string {
	for i, r := range tce.CancellationReasons {
		if aws.ToString(r.Code) != "ConditionalCheckFailed" {
			continue
		}
		if i == 0 {
			return "owner already has a vault"
		}
		return "vault already exists"
	}
	return "vault insert cancelled"
}

// Update rewrites every attribute of the item in one UpdateItem call.
func (r *VaultRepo) Update(ctx context.Context, v *domain.Vault) error {
	next := *v
	next.Version = v.Version + 1
	item, err := attributevalue.MarshalMap(&next)
	if err != nil {
		return fmt.Errorf("marshal vault: %w", err)
	}
	delete(item, fieldVaultID)

	set := make(map[string]interface{}, len(item))
	for k, av := range item {
		set[k] = av
	}
	var remove []string
	for _, f := range optionalFields {
		if _, ok := item[f]; !ok {
			remove = append(remove, f)
		}
	}

	ue, err := buildUpdateExpr(set, remove...)
	if err != nil {
		return err
	}
	ue.Names["#cv"] = fieldVersion
	ue.Values[":expected"] = &types.AttributeValueMemberN{Value: fmt.Sprint(v.Version)}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldVaultID, v.VaultID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("#cv = :expected"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("vault %s changed concurrently: %w", v.VaultID, domain.ErrConflict)
		}
		return fmt.Errorf("update vault: %w", err)
	}
	v.Version = next.Version
	return nil
}

func (r *VaultRepo) GetByID(ctx context.Context, vaultID string) (*domain.Vault, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldVaultID, vaultID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get vault: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("vault not found: %w", domain.ErrNotFound)
	}
	return unmarshalVault(out.Item)
}

// GetByOwner resolves the owner claim and then reads the vault, both with
// consistent reads.
func (r *VaultRepo) GetByOwner(ctx context.Context, ownerID string) (*domain.Vault, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.ownersTable),
		Key:            strKey(fieldOwnerID, ownerID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get owner claim: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("vault not found: %w", domain.ErrNotFound)
	}
	var claim ownerClaim
	if err := attributevalue.UnmarshalMap(out.Item, &claim); err != nil {
		return nil, fmt.Errorf("unmarshal owner claim: %w", err)
	}
	if claim.VaultID == "" {
		return nil, fmt.Errorf("owner claim without %s", fieldVaultID)
	}
	return r.GetByID(ctx, claim.VaultID)
}

func (r *VaultRepo) ListAll(ctx context.Context) ([]*domain.Vault, error) {
	var vaults []*domain.Vault
	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan vaults: %w", err)
		}
		for _, item := range page.Items {
			v, err := unmarshalVault(item)
			if err != nil {
				return nil, err
			}
			vaults = append(vaults, v)
		}
	}
	return vaults, nil
}

func unmarshalVault(item map[string]types.AttributeValue) (*domain.Vault, error) {
	var v domain.Vault
	if err := attributevalue.UnmarshalMap(item, &v); err != nil {
		return nil, fmt.Errorf("unmarshal vault: %w", err)
	}
	if _, err := domain.ParseVaultStatus(string(v.Status)); err != nil {
		return nil, fmt.Errorf("unmarshal vault %s: %w", v.VaultID, err)
	}
	if v.ShareCheckpoint.SubmittedByNominee == nil {
		v.ShareCheckpoint.SubmittedByNominee = map[string]domain.CheckpointEntry{}
	}
	return &v, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
