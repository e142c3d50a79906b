package handler

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"gowa-relay/internal/model"
	"gowa-relay/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"
)

// ContactInfo represents contact information for list and export
type ContactInfo struct {
	JID         string `json:"jid"`
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name"`
	IsGroup     bool   `json:"isGroup"`
}

// GET /chats - the flat chat cache built from history syncs.
func GetChats(snapshots *model.SnapshotStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		snap, err := snapshots.Read()
		if err != nil {
			return ErrorResponse(c, http.StatusInternalServerError,
				"Failed to read chat cache", "SNAPSHOT_READ_FAILED", err.Error())
		}

		return SuccessResponse(c, http.StatusOK, "Chat list retrieved", map[string]interface{}{
			"total": len(snap.Chats),
			"chats": snap.Chats,
		})
	}
}

// GET /contacts?search=john
func GetContactList(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		contacts, err := fetchContacts(m)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Failed to retrieve contact list", "FETCH_FAILED", err.Error())
		}

		searchQuery := strings.ToLower(strings.TrimSpace(c.QueryParam("search")))
		if searchQuery != "" {
			var filtered []ContactInfo
			for _, contact := range contacts {
				nameMatch := strings.Contains(strings.ToLower(contact.Name), searchQuery)
				phoneMatch := strings.Contains(contact.PhoneNumber, searchQuery)
				if nameMatch || phoneMatch {
					filtered = append(filtered, contact)
				}
			}
			contacts = filtered
		}

		return SuccessResponse(c, http.StatusOK, "Contact list retrieved", map[string]interface{}{
			"total":    len(contacts),
			"search":   searchQuery,
			"contacts": contacts,
		})
	}
}

// GET /contacts/export?format=xlsx
func ExportContacts(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		format := c.QueryParam("format")
		if format == "" {
			format = "xlsx"
		}
		if format != "xlsx" && format != "csv" {
			return ErrorResponse(c, http.StatusBadRequest,
				"Invalid format", "INVALID_FORMAT", "Format must be 'xlsx' or 'csv'")
		}

		contacts, err := fetchContacts(m)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Failed to retrieve contact list", "FETCH_FAILED", err.Error())
		}

		if format == "xlsx" {
			return exportToExcel(c, contacts)
		}
		return exportToCSV(c, contacts)
	}
}

// fetchContacts reads the transport's contact store, skipping linked-device
// entries and falling back through the name fields.
func fetchContacts(m *service.SessionManager) ([]ContactInfo, error) {
	client := m.Client()
	if client == nil || !client.IsConnected() {
		return nil, fmt.Errorf("session is not connected")
	}

	stored, err := client.Store.Contacts.GetAllContacts(context.Background())
	if err != nil {
		return nil, err
	}

	var contacts []ContactInfo
	for jid, contact := range stored {
		if jid.Server == "lid" {
			continue
		}

		name := contact.FullName
		if name == "" {
			if contact.BusinessName != "" {
				name = contact.BusinessName
			} else if contact.PushName != "" {
				name = contact.PushName
			} else {
				name = jid.User
			}
		}

		contacts = append(contacts, ContactInfo{
			JID:         jid.String(),
			PhoneNumber: jid.User,
			Name:        name,
			IsGroup:     jid.Server == "g.us",
		})
	}
	return contacts, nil
}

func exportToExcel(c echo.Context, contacts []ContactInfo) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Contacts"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError,
			"Failed to create Excel sheet", "EXCEL_ERROR", err.Error())
	}

	headers := []string{"No", "Phone Number", "Name", "JID", "Type"}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	f.SetCellStyle(sheetName, "A1", "E1", headerStyle)

	for i, contact := range contacts {
		row := i + 2
		contactType := "Contact"
		if contact.IsGroup {
			contactType = "Group"
		}

		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), i+1)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), contact.PhoneNumber)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), contact.Name)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), contact.JID)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), contactType)
	}

	f.SetColWidth(sheetName, "A", "A", 5)
	f.SetColWidth(sheetName, "B", "B", 15)
	f.SetColWidth(sheetName, "C", "C", 25)
	f.SetColWidth(sheetName, "D", "D", 35)
	f.SetColWidth(sheetName, "E", "E", 10)

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	c.Response().Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Response().Header().Set("Content-Disposition", "attachment; filename=contacts.xlsx")

	return f.Write(c.Response().Writer)
}

func exportToCSV(c echo.Context, contacts []ContactInfo) error {
	c.Response().Header().Set("Content-Type", "text/csv")
	c.Response().Header().Set("Content-Disposition", "attachment; filename=contacts.csv")

	writer := csv.NewWriter(c.Response().Writer)
	defer writer.Flush()

	if err := writer.Write([]string{"No", "Phone Number", "Name", "JID", "Type"}); err != nil {
		return ErrorResponse(c, http.StatusInternalServerError,
			"Failed to write CSV headers", "CSV_ERROR", err.Error())
	}

	for i, contact := range contacts {
		contactType := "Contact"
		if contact.IsGroup {
			contactType = "Group"
		}

		row := []string{
			strconv.Itoa(i + 1),
			contact.PhoneNumber,
			contact.Name,
			contact.JID,
			contactType,
		}
		if err := writer.Write(row); err != nil {
			return ErrorResponse(c, http.StatusInternalServerError,
				"Failed to write CSV row", "CSV_ERROR", err.Error())
		}
	}

	return nil
}
