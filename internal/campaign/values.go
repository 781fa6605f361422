package campaign

import (
	"strings"

	"github.com/foxzi/travelcrm/internal/models"
	"github.com/foxzi/travelcrm/internal/template"
)

// RecipientValues builds the template values for one contact. Campaign
// variables come first and contact fields override them.
func RecipientValues(c *models.Campaign, contact *models.Contact) template.Values {
	values := template.StringValues(c.Variables)

	values["firstName"] = template.TextValue(contact.FirstName)
	values["lastName"] = template.TextValue(contact.LastName)
	values["fullName"] = template.TextValue(contact.FullName())
	values["email"] = template.TextValue(contact.Email)
	values["phone"] = template.TextValue(contact.Phone)
	values["status"] = template.TextValue(string(contact.Status))
	values["budgetRange"] = template.TextValue(string(contact.BudgetRange))
	values["source"] = template.TextValue(string(contact.Source))
	values["destinations"] = template.TextValue(strings.Join(contact.PreferredDestinations, ", "))
	values["tags"] = template.TextValue(strings.Join(contact.Tags, ", "))
	if contact.LastTripAt != nil {
		values["lastTripDate"] = template.DateValue(*contact.LastTripAt)
	}
	return values
}
