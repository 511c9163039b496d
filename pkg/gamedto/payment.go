package gamedto

// Payment is what the player receives after a charge is created: the pix
// copia-e-cola string, an optional QR PNG and the internal transaction id.
// Fallback is set when the provider was unreachable and the code is the
// static demo placeholder.
type Payment struct {
	CopiaCola     string
	QRBase64      string
	TransactionID string
	Amount        int64
	Fallback      bool
}

// HandOut is one participant's private game-start message material.
type HandOut struct {
	UserID   string
	Phone    string
	Name     string
	Impostor bool
}

// StartReport summarizes a successful game start.
type StartReport struct {
	MatchID    string
	SecretWord string
	ImpostorID string
	Players    int
	HandOuts   []HandOut
}
