package domain

// Recognized upstream topics
const (
	TopicOrdersCreate          = "orders/create"
	TopicOrdersUpdated         = "orders/updated"
	TopicProductsCreate        = "products/create"
	TopicProductsUpdate        = "products/update"
	TopicInventoryLevelsUpdate = "inventory_levels/update"
	TopicCustomersCreate       = "customers/create"
)

// KnownTopics lists every topic with a registered transform
var KnownTopics = []string{
	TopicOrdersCreate,
	TopicOrdersUpdated,
	TopicProductsCreate,
	TopicProductsUpdate,
	TopicInventoryLevelsUpdate,
	TopicCustomersCreate,
}

// IsKnownTopic reports whether topic is one of KnownTopics
func IsKnownTopic(topic string) bool {
	for _, t := range KnownTopics {
		if t == topic {
			return true
		}
	}
	return false
}
