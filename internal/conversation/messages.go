package conversation

import (
	"fmt"

	"github.com/pitabwire/wizard/model"
)

const (
	greetingMessage = "👋 **Welcome to the AI Workflow Builder!**\n\n" +
		"I'll help you set up a data integration workflow. Choose from one of our pre-built templates:"
	unknownWorkflowMessage = "I didn't recognize that workflow. Please select one:"
	templateGoneMessage    = "That workflow is no longer available. Please select one:"
	selectOptionMessage    = "Please select an option:"
	runningMessage         = "Your workflow is running! Would you like to create another?"
	ackPrefix              = "✓ Got it!"
)

// Review and completion actions.
const (
	ActionActivate = "activate"
	ActionTest     = "test"
	ActionEdit     = "edit"
	ActionNew      = "new"
)

var (
	optActivate = model.Option{ID: ActionActivate, Label: "🚀 Activate Workflow"}
	optTest     = model.Option{ID: ActionTest, Label: "🧪 Test Connection"}
	optNew      = model.Option{ID: ActionNew, Label: "➕ Create Another"}
	optAnother  = model.Option{ID: ActionNew, Label: "➕ Create Another Workflow"}
)

func reviewOptions() []model.Option {
	return []model.Option{
		{ID: ActionActivate, Label: optActivate.Label, Description: "Start syncing data now"},
		{ID: ActionTest, Label: optTest.Label, Description: "Verify all connections work"},
		{ID: ActionEdit, Label: "✏️ Edit Configuration", Description: "Make changes to the setup"},
		{ID: ActionNew, Label: optNew.Label, Description: "Start a new workflow"},
	}
}

func selectedMessage(t model.Template) string {
	return fmt.Sprintf("Great choice! Let's set up **%s**.\n\n%s\n\n---\n\n%s", t.Name, t.Description, stepHeading(1, t.Source))
}

func stepHeading(n int, s model.Stage) string {
	return fmt.Sprintf("**Step %d: Configure %s %s**", n, s.Name, s.Icon)
}

func stageDoneMessage(done model.Stage, n int, next model.Stage) string {
	return fmt.Sprintf("✅ **%s configured!**\n\n---\n\n%s", done.Name, stepHeading(n, next))
}

func reviewMessage(t model.Template) string {
	return fmt.Sprintf("🎉 **Workflow Configuration Complete!**\n\n"+
		"Your **%s** workflow is ready!\n\n"+
		"**Summary:**\n"+
		"- **Source:** %s ✅\n"+
		"- **Transform:** %s ✅\n"+
		"- **Destination:** %s ✅\n\n"+
		"What would you like to do?", t.Name, t.Source.Name, t.Transform.Name, t.Destination.Name)
}

func activatedMessage(t model.Template) string {
	return fmt.Sprintf("✅ **Workflow Activated!**\n\n"+
		"Your **%s** is now running.\n\n"+
		"📊 **Status:** Active\n"+
		"🔄 **Next sync:** In a few moments\n"+
		"📁 **Initial sync:** Processing...\n\n"+
		"I'll notify you when the first sync completes!", t.Name)
}

func testedMessage(t model.Template) string {
	return fmt.Sprintf("🔄 **Testing connections...**\n\n"+
		"✅ %s: Connected successfully\n"+
		"✅ %s: Configured correctly\n"+
		"✅ %s: Connected successfully\n\n"+
		"All systems go! Ready to activate.", t.Source.Name, t.Transform.Name, t.Destination.Name)
}
