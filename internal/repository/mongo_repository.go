package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// cartDocument keeps money as strings; decimal.Decimal has no bson codec.
type cartDocument struct {
	ID               primitive.ObjectID `bson:"_id,omitempty"`
	UserID           string             `bson:"user_id"`
	Items            []cartItemDocument `bson:"items"`
	CouponCode       string             `bson:"coupon_code"`
	Discount         string             `bson:"discount"`
	DeliveryMethodID *int64             `bson:"delivery_method_id"`
	PaymentIntentID  string             `bson:"payment_intent_id"`
	ClientSecret     string             `bson:"client_secret"`
	Version          int64              `bson:"version"`
	CreatedAt        time.Time          `bson:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at"`
}

type cartItemDocument struct {
	ID          string    `bson:"id"`
	ProductID   int64     `bson:"product_id"`
	ProductName string    `bson:"product_name"`
	Quantity    int       `bson:"quantity"`
	UnitPrice   string    `bson:"unit_price"`
	AddedAt     time.Time `bson:"added_at"`
}

type MongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoCartRepository {
	return &MongoCartRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoCartRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var doc cartDocument

	filter := bson.M{"user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return fromDocument(&doc)
}

func (m *MongoCartRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = now
	}

	doc := toDocument(cart)
	doc.ID = primitive.NilObjectID
	doc.Version = cart.Version + 1

	if cart.Version == 0 {
		res, err := m.collection.InsertOne(ctx, doc)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrCartVersionConflict
			}
			return fmt.Errorf("failed to insert cart: %w", err)
		}
		if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
			cart.ID = oid.Hex()
		}
		cart.Version = doc.Version
		return nil
	}

	filter := bson.M{"user_id": cart.UserID, "version": cart.Version}
	update := bson.M{"$set": doc}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartVersionConflict
	}

	cart.Version = doc.Version
	return nil
}

func (m *MongoCartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "payment_intent_id", Value: 1}},
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

func toDocument(cart *domain.Cart) *cartDocument {
	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.String(),
			AddedAt:     item.AddedAt,
		})
	}

	return &cartDocument{
		UserID:           cart.UserID,
		Items:            items,
		CouponCode:       cart.CouponCode,
		Discount:         cart.Discount.String(),
		DeliveryMethodID: cart.DeliveryMethodID,
		PaymentIntentID:  cart.PaymentIntentID,
		ClientSecret:     cart.ClientSecret,
		Version:          cart.Version,
		CreatedAt:        cart.CreatedAt,
		UpdatedAt:        cart.UpdatedAt,
	}
}

func fromDocument(doc *cartDocument) (*domain.Cart, error) {
	discount, err := decimal.NewFromString(orZero(doc.Discount))
	if err != nil {
		return nil, fmt.Errorf("parse cart discount: %w", err)
	}

	cart := &domain.Cart{
		ID:               doc.ID.Hex(),
		UserID:           doc.UserID,
		CouponCode:       doc.CouponCode,
		Discount:         discount,
		DeliveryMethodID: doc.DeliveryMethodID,
		PaymentIntentID:  doc.PaymentIntentID,
		ClientSecret:     doc.ClientSecret,
		Version:          doc.Version,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}

	for _, item := range doc.Items {
		price, err := decimal.NewFromString(orZero(item.UnitPrice))
		if err != nil {
			return nil, fmt.Errorf("parse unit price of item %s: %w", item.ID, err)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   price,
			AddedAt:     item.AddedAt,
		})
	}

	return cart, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
