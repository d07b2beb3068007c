package openalex

import (
	"github.com/JakeFAU/citenet/internal/citation"
)

type named struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type work struct {
	ID                   string `json:"id"`
	DOI                  string `json:"doi"`
	DisplayName          string `json:"display_name"`
	PublicationYear      int    `json:"publication_year"`
	CitedByCount         int    `json:"cited_by_count"`
	ReferencedWorksCount int    `json:"referenced_works_count"`
	PrimaryTopic         *struct {
		Field    *named `json:"field"`
		Subfield *named `json:"subfield"`
	} `json:"primary_topic"`
	PrimaryLocation *struct {
		Source *named `json:"source"`
	} `json:"primary_location"`
	Authorships []authorship `json:"authorships"`
}

type institution struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CountryCode string `json:"country_code"`
}

type authorship struct {
	Author       named         `json:"author"`
	Institutions []institution `json:"institutions"`
	Countries    []string      `json:"countries"`
}

type listResponse struct {
	Meta struct {
		Count      int     `json:"count"`
		NextCursor *string `json:"next_cursor"`
	} `json:"meta"`
	Results []work `json:"results"`
}

func (w work) toNode(id string) citation.Node {
	node := citation.Node{
		ID:             id,
		DOI:            citation.NormalizeDOI(w.DOI),
		OpenAlexID:     citation.ShortOpenAlexID(w.ID),
		Title:          w.DisplayName,
		Year:           w.PublicationYear,
		CitedByCount:   w.CitedByCount,
		ReferenceCount: w.ReferencedWorksCount,
	}
	if w.PrimaryTopic != nil {
		if w.PrimaryTopic.Field != nil {
			node.Field = w.PrimaryTopic.Field.DisplayName
		}
		if w.PrimaryTopic.Subfield != nil {
			node.Subfield = w.PrimaryTopic.Subfield.DisplayName
		}
	}
	if w.PrimaryLocation != nil && w.PrimaryLocation.Source != nil {
		node.Venue = w.PrimaryLocation.Source.DisplayName
	}
	seen := make(map[string]struct{})
	for _, a := range w.Authorships {
		credit := citation.Authorship{
			AuthorID: citation.ShortOpenAlexID(a.Author.ID),
			Name:     a.Author.DisplayName,
		}
		for _, inst := range a.Institutions {
			instID := citation.ShortOpenAlexID(inst.ID)
			if instID == "" {
				continue
			}
			credit.Institutions = append(credit.Institutions, instID)
			if credit.Country == "" {
				credit.Country = inst.CountryCode
			}
			if _, ok := seen[instID]; ok {
				continue
			}
			seen[instID] = struct{}{}
			node.Institutions = append(node.Institutions, instID)
		}
		if credit.Country == "" && len(a.Countries) > 0 {
			credit.Country = a.Countries[0]
		}
		if credit.AuthorID != "" {
			node.Authorships = append(node.Authorships, credit)
		}
	}
	return node
}
