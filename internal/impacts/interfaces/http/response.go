package http

import (
	"encoding/json"
	"net/http"

	impacts "blitz-proxy/internal/impacts/domain"
)

type equipmentResponse struct {
	ID      int64            `json:"id"`
	Impacts []impacts.Impact `json:"impacts"`
}

type queryEnvelope struct {
	Since int64               `json:"since"`
	Eqs   []equipmentResponse `json:"eqs"`
}

type statsBody struct {
	Count int64           `json:"nb"`
	First *impacts.Impact `json:"first"`
	Last  *impacts.Impact `json:"last"`
}

type validationBody struct {
	Detail []*impacts.ValidationError `json:"detail"`
}

type detailBody struct {
	Detail string `json:"detail"`
}

func equipmentBody(eqs []impacts.EquipmentResult) []equipmentResponse {
	out := make([]equipmentResponse, 0, len(eqs))
	for _, eq := range eqs {
		list := eq.Impacts
		if list == nil {
			list = []impacts.Impact{}
		}
		out = append(out, equipmentResponse{ID: eq.ID, Impacts: list})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailBody{Detail: detail})
}
