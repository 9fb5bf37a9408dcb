package model

import "time"

// Card is a collectible card in the catalog.  Cards are created
// alongside the listing that offers them for sale; once a card has
// been traded it is only mutated through the explicit card edit
// endpoints.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – display name of the card.
//  HP          – hit points printed on the card.
//  Rarity      – rarity tier (e.g. "Common", "Rare Holo").
//  Type        – elemental type (e.g. "Fire", "Water").
//  ImageURL    – URL of the uploaded card image, empty when none.
//  Description – free-form description.
//  CreatedAt   – timestamp of creation.
type Card struct {
	ID          uint64    // cards.id
	Name        string    // cards.name
	HP          int       // cards.hp
	Rarity      string    // cards.rarity
	Type        string    // cards.type
	ImageURL    string    // cards.image_url
	Description string    // cards.description
	CreatedAt   time.Time // cards.created_at
}
