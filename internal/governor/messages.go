package governor

import "fmt"

// SearchRefusal is returned to a worker whose search budget is exhausted.
func SearchRefusal(g *Governor) string {
	s := g.Snapshot()
	return fmt.Sprintf("Search limit reached (%d/%d). You MUST NOT call search again. "+
		"Write the information you have already collected to the table with add_records or "+
		"update_records, then finish the task with your final answer.", s.Count, s.Limit)
}

// VisitRefusal is returned to a worker whose page fetch budget is exhausted.
func VisitRefusal(g *Governor) string {
	s := g.Snapshot()
	return fmt.Sprintf("Visit limit reached (%d/%d). You MUST NOT call visit again. "+
		"Write the information you have already collected to the table with add_records or "+
		"update_records, then finish the task with your final answer.", s.Count, s.Limit)
}

// TableCreationRefusal is returned when the schema was already defined for the task.
func TableCreationRefusal(table string) string {
	return fmt.Sprintf("Table creation refused: a table has already been defined for this task "+
		"(requested %q). Do not call create_table again. Use list_tables or describe_table to "+
		"inspect the existing schema and add_records to insert data.", table)
}

// BudgetNote is appended to successful search and visit results.
func BudgetNote(label string, g *Governor) string {
	s := g.Snapshot()
	if s.Limit == Unlimited {
		return fmt.Sprintf("[Current %s Budget: %d used, unlimited]", label, s.Count)
	}
	return fmt.Sprintf("[Current %s Budget: %d/%d, Remaining: %d]", label, s.Count, s.Limit, s.Remaining)
}
