package workato

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/darkostanimirovic/groupchat"
)

// RecipeReport is what getWorkatoRecipe returns to the model.
type RecipeReport struct {
	FolderID int      `json:"folder_id"`
	Recipes  []Recipe `json:"recipes"`
	Jobs     []JobLog `json:"jobs,omitempty"`
}

// NewRecipeTool binds the workato preset's getWorkatoRecipe function to c.
// With include_jobs set, the latest job log of every recipe is attached.
func NewRecipeTool(c *Client) (groupchat.Tool, error) {
	return groupchat.NewTool(groupchat.WorkatoRecipeFunction).
		WithDescription("List the Workato recipes in a folder, optionally with their recent job logs.").
		WithParameter("folder_id", groupchat.String().Required().WithDescription("Numeric id of the Workato folder.")).
		WithParameter("include_jobs", groupchat.Boolean().WithDescription("Attach the recent job log of each recipe.")).
		WithHandler(func(ctx context.Context, args map[string]any) (any, error) {
			folderID, err := folderArg(args["folder_id"])
			if err != nil {
				return nil, err
			}
			recipes, err := c.ListRecipes(ctx, folderID)
			if err != nil {
				return nil, err
			}
			report := RecipeReport{FolderID: folderID, Recipes: recipes}

			if withJobs, _ := args["include_jobs"].(bool); withJobs {
				for _, r := range recipes {
					log, err := c.RecipeJobs(ctx, r.ID)
					if err != nil {
						return nil, err
					}
					report.Jobs = append(report.Jobs, *log)
				}
			}
			return report, nil
		}).
		Build()
}

// folderArg accepts the id as a string or a JSON number.
func folderArg(v any) (int, error) {
	switch id := v.(type) {
	case float64:
		return int(id), nil
	case int:
		return id, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(id))
		if err != nil {
			return 0, fmt.Errorf("folder_id must be numeric, got %q", id)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("missing required argument %q", "folder_id")
	default:
		return 0, fmt.Errorf("folder_id must be numeric, got %T", v)
	}
}
