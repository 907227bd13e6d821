// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package spoonacular is the Spoonacular recipe search integration.
package spoonacular

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stacklok/mcpapps/pkg/gateway"
	"github.com/stacklok/mcpapps/pkg/gateway/engine"
	"github.com/stacklok/mcpapps/pkg/networking"
)

const (
	// Name is the app name of the integration.
	Name = "spoonacular"

	// DefaultAPIURL is the Spoonacular API root.
	DefaultAPIURL = "https://api.spoonacular.com"
)

// Config holds the API root and HTTP client of the integration.
type Config struct {
	Client networking.HTTPClient
	APIURL string
}

type integration struct {
	client networking.HTTPClient
	apiURL string
}

// App returns the Spoonacular app.
func App(cfg Config) engine.App {
	s := &integration{client: cfg.Client, apiURL: strings.TrimSuffix(cfg.APIURL, "/")}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	if s.apiURL == "" {
		s.apiURL = DefaultAPIURL
	}

	str := func(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
	num := func(desc string) map[string]any { return map[string]any{"type": "number", "description": desc} }

	return engine.App{
		Name:        Name,
		Description: "Search recipes, ingredients and nutrition data with the Spoonacular API",
		Icon:        "https://assets.deco.cx/icons/spoonacular.svg",
		Props: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"apiKey": map[string]any{
					"type":        "string",
					"description": "Spoonacular API key",
					"writeOnly":   true,
				},
			},
			"required": []any{"apiKey"},
		},
		Functions: []engine.Function{
			{
				Key:         "loaders/recipes/search",
				Name:        "SPOONACULAR_SEARCH_RECIPES",
				Description: "Search through recipes using advanced filtering and ranking",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query":              str("The natural language recipe search query"),
						"cuisine":            str("The cuisine(s) of the recipes (comma separated for OR)"),
						"excludeCuisine":     str("The cuisine(s) the recipes must not match"),
						"diet":               str("The diet(s) for which the recipes must be suitable"),
						"intolerances":       str("A comma-separated list of intolerances"),
						"includeIngredients": str("A comma-separated list of ingredients that should be used"),
						"excludeIngredients": str("A comma-separated list of ingredients that must not be used"),
						"type":               str("The type of recipe"),
						"sort":               str("The strategy to sort recipes by"),
						"maxReadyTime":       num("Maximum preparation time in minutes"),
						"minCalories":        num("Minimum amount of calories per serving"),
						"maxCalories":        num("Maximum amount of calories per serving"),
						"offset":             num("The number of results to skip (0-900)"),
						"number":             num("The number of expected results (1-100)"),
						"addRecipeInformation": map[string]any{
							"type":        "boolean",
							"description": "Get more information about the recipes returned",
						},
					},
				},
				Handler: s.searchRecipes,
			},
		},
	}
}

// Props is the stored configuration of a Spoonacular install.
type Props struct {
	APIKey string `json:"apiKey"`
}

// Recipe is one search hit.
type Recipe struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Image     string `json:"image,omitempty"`
	ImageType string `json:"imageType,omitempty"`
}

// SearchResult is the response of the complex search endpoint.
type SearchResult struct {
	Offset       int      `json:"offset"`
	Number       int      `json:"number"`
	Results      []Recipe `json:"results"`
	TotalResults int      `json:"totalResults"`
}

func (s *integration) searchRecipes(ctx context.Context, props map[string]any, ac *engine.AppContext) (any, error) {
	var cfg Props
	if err := engine.DecodeProps(ac.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, gateway.InvalidInputf("Spoonacular apiKey is not configured")
	}

	q := queryParams(props)
	q.Set("apiKey", cfg.APIKey)

	res, err := networking.FetchJSON[SearchResult](ctx, s.client, s.apiURL+"/recipes/complexSearch?"+q.Encode(),
		networking.WithRetry(3, 200*time.Millisecond))
	switch {
	case networking.IsHTTPError(err, http.StatusUnauthorized), networking.IsHTTPError(err, http.StatusPaymentRequired):
		return nil, gateway.InvalidInputf("Spoonacular rejected the API key or quota is exhausted")
	case err != nil:
		return nil, gateway.Upstream("searching spoonacular recipes", err)
	}
	if res.Data.Results == nil {
		res.Data.Results = []Recipe{}
	}
	return &res.Data, nil
}

// queryParams turns the scalar props into query parameters. Nested values
// are ignored.
func queryParams(props map[string]any) url.Values {
	q := url.Values{}
	for k, value := range props {
		switch v := value.(type) {
		case string:
			if v != "" {
				q.Set(k, v)
			}
		case bool:
			q.Set(k, strconv.FormatBool(v))
		case float64:
			q.Set(k, strconv.FormatFloat(v, 'f', -1, 64))
		case int:
			q.Set(k, strconv.Itoa(v))
		}
	}
	return q
}
