package notify

import (
	"fmt"
	"html"
)

func emailTemplate(title, body string) string {
	return fmt.Sprintf(`
	<!DOCTYPE html>
	<html>
	<head>
		<style>
			body { font-family: 'Helvetica Neue', Helvetica, Arial, sans-serif; background-color: #F6F6F6; margin: 0; padding: 0; }
			.container { max-width: 600px; margin: 40px auto; background: #FFFFFF; border-radius: 8px; overflow: hidden; }
			.header { background-color: #10243E; padding: 30px; text-align: center; }
			.header h1 { color: #FFFFFF; margin: 0; font-size: 22px; letter-spacing: 1px; }
			.content { padding: 40px 30px; color: #10243E; line-height: 1.6; }
			.info-box { background: #E8F0FE; padding: 15px; border-radius: 4px; border-left: 4px solid #2E7D32; margin: 20px 0; }
			.footer { background-color: #F6F6F6; padding: 20px; text-align: center; font-size: 12px; color: #666666; }
		</style>
	</head>
	<body>
		<div class="container">
			<div class="header"><h1>MARK-TO-MARKET</h1></div>
			<div class="content">
				<h2>%s</h2>
				%s
			</div>
			<div class="footer">Trading involves risk. Follow your plan.</div>
		</div>
	</body>
	</html>
	`, html.EscapeString(title), body)
}

func enrollmentOpenedMessage(name, email, modelTitle, firstTask string) Message {
	next := "This model has no tasks yet."
	if firstTask != "" {
		next = fmt.Sprintf("Your first task, <strong>%s</strong>, is unlocked.", html.EscapeString(firstTask))
	}
	body := fmt.Sprintf(`
		<p>Dear %s,</p>
		<p>Your enrollment in <strong>%s</strong> is active.</p>
		<div class="info-box">%s</div>
	`, html.EscapeString(name), html.EscapeString(modelTitle), next)
	return Message{
		ToName:  name,
		ToEmail: email,
		Subject: "Enrollment active: " + modelTitle,
		HTML:    emailTemplate("Enrollment Approved", body),
		Text:    fmt.Sprintf("Your enrollment in %s is active.", modelTitle),
	}
}

func taskUnlockedMessage(name, email, modelTitle, taskName string) Message {
	body := fmt.Sprintf(`
		<p>Dear %s,</p>
		<p>A new task is open in <strong>%s</strong>.</p>
		<div class="info-box"><strong>%s</strong> is now unlocked. Journal compliant trades to complete it.</div>
	`, html.EscapeString(name), html.EscapeString(modelTitle), html.EscapeString(taskName))
	return Message{
		ToName:  name,
		ToEmail: email,
		Subject: "Task unlocked: " + taskName,
		HTML:    emailTemplate("Task Unlocked", body),
		Text:    fmt.Sprintf("%s is now unlocked in %s.", taskName, modelTitle),
	}
}
