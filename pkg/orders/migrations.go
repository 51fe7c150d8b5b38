package orders

import "github.com/stocklane/stocklane/pkg/storage/postgres"

// Migrations returns the schema for the order store. The customer and
// reservation are references into the peer services, so no foreign
// keys here.
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create orders table",
			SQL: `
				CREATE TABLE IF NOT EXISTS orders (
					id BIGSERIAL PRIMARY KEY,
					customer VARCHAR(255) NOT NULL,
					item_id BIGINT NOT NULL,
					item_sku VARCHAR(64) NOT NULL,
					quantity INT NOT NULL,
					price_cents BIGINT NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'pending',
					reservation_id BIGINT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CHECK (quantity > 0)
				);

				CREATE INDEX idx_orders_customer ON orders(customer);
				CREATE INDEX idx_orders_status ON orders(status);
				CREATE INDEX idx_orders_created_at ON orders(created_at);
			`,
		},
	}
}
