package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send a message on a conversation thread",
	Long: `Send a message on a conversation thread.

Examples:
  lectern ask "what does the document say about photosynthesis?" --thread biology
  lectern ask "quiz me on doc:bio-101" --thread biology
  lectern ask "cancel quiz" --thread biology`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		thread, _ := cmd.Flags().GetString("thread")
		owner, _ := cmd.Flags().GetString("owner")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result struct {
			TextResponse   string   `json:"text_response"`
			WorkflowStatus string   `json:"workflow_status"`
			QuizQuestion   string   `json:"quiz_question"`
			QuizOptions    []string `json:"quiz_options"`
			QuizProgress   string   `json:"quiz_progress"`
		}
		err = client.postJSON(cmd.Context(), "/v1/threads/"+url.PathEscape(thread)+"/turns", map[string]string{
			"owner_id": owner,
			"message":  args[0],
		}, &result)
		if err != nil {
			return err
		}

		printAgent(result.TextResponse)
		if result.QuizQuestion != "" {
			fmt.Fprintln(os.Stdout)
			fmt.Fprintln(os.Stdout, result.QuizQuestion)
			for i, opt := range result.QuizOptions {
				fmt.Fprintf(os.Stdout, "  %d. %s\n", i+1, opt)
			}
			if result.QuizProgress != "" {
				fmt.Fprintf(os.Stdout, "(%s)\n", result.QuizProgress)
			}
		}
		return nil
	},
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage stored documents",
}

var docsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a document",
	Long: `Store a document for grounded chat and quizzes.

Examples:
  lectern docs add --file ./chapter3.md --title "Chapter 3"
  lectern docs add --text "Photosynthesis converts light into chemical energy."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		owner, _ := cmd.Flags().GetString("owner")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		content := text
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			content = string(data)
			if title == "" {
				title = file
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result map[string]string
		err = client.postJSON(cmd.Context(), "/v1/documents", map[string]string{
			"owner_id": owner,
			"title":    title,
			"content":  content,
		}, &result)
		if err != nil {
			return err
		}

		printSuccess("Stored document %s", result["id"])
		return nil
	},
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var docs []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := client.getJSON(cmd.Context(), "/v1/documents?owner_id="+url.QueryEscape(owner), &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Fprintln(os.Stdout, "no documents stored")
			return nil
		}
		for _, d := range docs {
			title := d.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(os.Stdout, "%s  %s\n", d.ID, title)
		}
		return nil
	},
}

// --- refine ---

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Refine a rough transcript into clear written prose",
	Long: `Refine a rough spoken-answer transcript into clear written prose.
The refined text keeps the speaker's meaning exactly; nothing is added or
corrected.

Examples:
  lectern refine --text "so um the mitochondria is like where energy gets made"
  lectern refine --file ./transcript.txt --prompt "Explain cellular respiration"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		prompt, _ := cmd.Flags().GetString("prompt")
		owner, _ := cmd.Flags().GetString("owner")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		transcript := text
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			transcript = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var session struct {
			SessionID   string `json:"session_id"`
			RefinedText string `json:"refined_text"`
		}
		err = client.postJSON(cmd.Context(), "/v1/formulation/sessions", map[string]string{
			"owner_id":    owner,
			"prompt_text": prompt,
			"transcript":  transcript,
		}, &session)
		if err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout, strings.TrimSpace(session.RefinedText))
		printStatus("Session", "%s", session.SessionID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("thread", "default", "conversation thread id")
	askCmd.Flags().String("owner", "local", "owner scope")

	docsAddCmd.Flags().String("text", "", "document text")
	docsAddCmd.Flags().String("file", "", "file path to store")
	docsAddCmd.Flags().String("title", "", "title for the document")
	docsAddCmd.Flags().String("owner", "local", "owner scope")
	docsListCmd.Flags().String("owner", "local", "owner scope")
	docsCmd.AddCommand(docsAddCmd)
	docsCmd.AddCommand(docsListCmd)

	refineCmd.Flags().String("text", "", "transcript text")
	refineCmd.Flags().String("file", "", "transcript file path")
	refineCmd.Flags().String("prompt", "", "the question the transcript answers")
	refineCmd.Flags().String("owner", "local", "owner scope")
}
