package api

type CreditCosts struct {
	SaveTutorial    int64 `json:"saveTutorial"`
	GenerateArticle int64 `json:"generateArticle"`
}

type CreditsResponse struct {
	Balance  int64       `json:"balance"`
	Packages []int64     `json:"packages"`
	Costs    CreditCosts `json:"costs"`
}

type AddCreditsRequest struct {
	Amount int64 `json:"amount"`
}

type SaveTutorialRequest struct {
	Title string `json:"title"`
}

// InsufficientCreditsResponse is the 402 body, enough for a client to offer a credit package.
type InsufficientCreditsResponse struct {
	Error    string `json:"error"`
	Required int64  `json:"required"`
	Balance  int64  `json:"balance"`
}
