package models

type MessageRequest struct {
	SectorID  int    `json:"sectorId"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	UserID    *int   `json:"userId"`
}

type MediaMessageRequest struct {
	SectorID   int    `json:"sectorId"`
	Recipient  string `json:"recipient"`
	Base64File string `json:"base64File"`
	FileName   string `json:"fileName"`
	Caption    string `json:"caption"`
	UserID     *int   `json:"userId"`
}

type TypingRequest struct {
	SectorID  int    `json:"sectorId"`
	Recipient string `json:"recipient"`
	Duration  int    `json:"duration"`
}
